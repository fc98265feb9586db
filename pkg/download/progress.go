package download

import (
	"io"
	"time"
)

// progressReportBytes is the minimum amount of data between two reports
const progressReportBytes = 256 * 1024

// progressReader counts bytes read and reports them at a throttled pace
type progressReader struct {
	reader         io.Reader
	interval       time.Duration
	read           int64
	lastReported   int64
	lastReportTime time.Time
	onProgress     func(bytesRead int64)
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.read += int64(n)
	}
	if pr.onProgress == nil || pr.read == pr.lastReported {
		return n, err
	}

	// a final read always reports
	if pr.read-pr.lastReported >= progressReportBytes ||
		time.Since(pr.lastReportTime) >= pr.interval ||
		err != nil {
		pr.onProgress(pr.read)
		pr.lastReported = pr.read
		pr.lastReportTime = time.Now()
	}
	return n, err
}
