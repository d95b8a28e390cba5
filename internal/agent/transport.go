package agent

import "net/http"

// Signer adds authentication to an agent request.
type Signer interface {
	Sign(req *http.Request, body []byte) error
}

// BearerToken signs requests with an Authorization: Bearer header.
type BearerToken struct {
	Token string
}

// Sign sets the Authorization header.
func (t *BearerToken) Sign(req *http.Request, body []byte) error {
	req.Header.Set("Authorization", "Bearer "+t.Token)
	return nil
}
