package server

import "log/slog"

// User holds SSH credentials and an optional sudo password. Secret fields
// are resolved from the environment by the caller and never logged.
type User struct {
	Name         string
	SSHKey       string
	Passphrase   string
	Password     string
	SudoPassword string
}

// LogValue keeps secrets out of structured logs.
func (u User) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", u.Name),
		slog.String("ssh_key", u.SSHKey),
		slog.Bool("password", u.Password != ""),
		slog.Bool("sudo_password", u.SudoPassword != ""),
	)
}
