package models

// ServerConfig is a remote upload target registered with the companion service.
// fetchferry only reads these; the remote API owns them.
type ServerConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Protocol    string `json:"protocol"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"-"`
	DefaultPath string `json:"default_path,omitempty"`
	// timestamps are passed through as the remote API formats them
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// Validate checks the fields the upload path relies on
func (s *ServerConfig) Validate() error {
	if s.ID == "" {
		return &ValidationError{Field: "id", Message: "server id is required"}
	}
	if s.Host == "" {
		return &ValidationError{Field: "host", Message: "server host is required"}
	}
	if s.Port < 0 || s.Port > 65535 {
		return &ValidationError{Field: "port", Message: "port must be between 0 and 65535"}
	}
	return nil
}
