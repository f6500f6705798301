package transport

// Credentials keeps a private copy of the session secret for the lifetime of
// one connector.
type Credentials struct {
	username string
	password []byte
}

func newCredentials(username string, password []byte) *Credentials {
	passwordCopy := make([]byte, len(password))
	copy(passwordCopy, password)
	return &Credentials{username: username, password: passwordCopy}
}

func (c *Credentials) Clear() {
	secureWipe(c.password)
	c.password = nil
}

// secureWipe overwrites data with zeros.
func secureWipe(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
