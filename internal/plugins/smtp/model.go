package smtp

// SMTPSettings is the admin view of the mail configuration. The password is
// never returned; HasPassword shows whether one is set.
type SMTPSettings struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Username    string `json:"username"`
	HasPassword bool   `json:"hasPassword"`
	FromAddress string `json:"fromAddress"`
	FromName    string `json:"fromName"`
	Encryption  string `json:"encryption"` // "starttls", "ssl", or "none".
	Enabled     bool   `json:"enabled"`
}

// TestMailRequest is the optional POST /admin/smtp/test body. An empty To
// sends the test message to the calling admin.
type TestMailRequest struct {
	To string `json:"to"`
}

// Settings returns the mailer's configuration without the password.
func (m *Mailer) Settings() *SMTPSettings {
	return &SMTPSettings{
		Host:        m.cfg.Host,
		Port:        m.cfg.Port,
		Username:    m.cfg.Username,
		HasPassword: m.cfg.Password != "",
		FromAddress: m.cfg.FromAddress,
		FromName:    m.cfg.FromName,
		Encryption:  m.cfg.Encryption,
		Enabled:     m.cfg.Enabled(),
	}
}
