package mailbox

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// GoogleMailScope grants IMAP access to a Gmail mailbox
const GoogleMailScope = "https://mail.google.com/"

// XOAuth2Client implements the SASL XOAUTH2 mechanism
type XOAuth2Client struct {
	Username    string
	AccessToken string
}

// NewXOAuth2Client creates a new XOAUTH2 SASL client
func NewXOAuth2Client(username, accessToken string) *XOAuth2Client {
	return &XOAuth2Client{
		Username:    username,
		AccessToken: accessToken,
	}
}

// Start begins the XOAUTH2 authentication
func (c *XOAuth2Client) Start() (mech string, ir []byte, err error) {
	// "user=" + user + "\x01auth=Bearer " + token + "\x01\x01"
	ir = []byte(fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", c.Username, c.AccessToken))
	return "XOAUTH2", ir, nil
}

// Next handles server challenges. XOAUTH2 sends one only on failure, answered empty.
func (c *XOAuth2Client) Next(challenge []byte) (response []byte, err error) {
	return nil, nil
}

// GoogleTokenSource returns a refreshing token source for a stored refresh token
func GoogleTokenSource(clientID, clientSecret, refreshToken string) oauth2.TokenSource {
	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{GoogleMailScope},
	}
	// conf.TokenSource caches the access token until it expires
	return conf.TokenSource(context.Background(), &oauth2.Token{RefreshToken: refreshToken})
}
