package web

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/coderelay/core/internal/database/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrSessionNotFound indicates no session is stored for the account
	ErrSessionNotFound = errors.New("browser session not found")
	// ErrEncryptionFailed indicates cookie encryption failed
	ErrEncryptionFailed = errors.New("session encryption failed")
	// ErrDecryptionFailed indicates cookie decryption failed
	ErrDecryptionFailed = errors.New("session decryption failed")
)

// SessionStore persists authenticated cookie sets keyed by account
type SessionStore interface {
	Load(ctx context.Context, account string) ([]Cookie, error)
	Save(ctx context.Context, account string, cookies []Cookie) error
	Delete(ctx context.Context, account string) error
}

// SessionInfo describes a stored session without exposing cookie values
type SessionInfo struct {
	Account     string    `json:"account"`
	CookieCount int       `json:"cookie_count"`
	LoggedInAt  time.Time `json:"logged_in_at"`
}

// GormSessionStore stores sessions in the browser_sessions table, cookies encrypted with AES-256-GCM
type GormSessionStore struct {
	db            *gorm.DB
	encryptionKey []byte // 32 bytes for AES-256
}

// NewGormSessionStore creates a new GormSessionStore
func NewGormSessionStore(db *gorm.DB, encryptionKey []byte) *GormSessionStore {
	// Ensure key is 32 bytes for AES-256
	key := make([]byte, 32)
	copy(key, encryptionKey)
	return &GormSessionStore{
		db:            db,
		encryptionKey: key,
	}
}

// Load implements SessionStore
func (s *GormSessionStore) Load(ctx context.Context, account string) ([]Cookie, error) {
	var row models.BrowserSession
	if err := s.db.WithContext(ctx).Where("account = ?", account).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	plaintext, err := s.decrypt(row.CookiesEncrypted)
	if err != nil {
		return nil, err
	}
	var cookies []Cookie
	if err := json.Unmarshal(plaintext, &cookies); err != nil {
		return nil, ErrDecryptionFailed
	}
	return cookies, nil
}

// Save implements SessionStore, replacing any previous session for the account
func (s *GormSessionStore) Save(ctx context.Context, account string, cookies []Cookie) error {
	data, err := json.Marshal(cookies)
	if err != nil {
		return err
	}
	encrypted, err := s.encrypt(data)
	if err != nil {
		return err
	}

	row := models.BrowserSession{
		Account:          account,
		CookiesEncrypted: encrypted,
		CookieCount:      len(cookies),
		LoggedInAt:       time.Now(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account"}},
		DoUpdates: clause.AssignmentColumns([]string{"cookies_encrypted", "cookie_count", "logged_in_at", "updated_at"}),
	}).Create(&row).Error
}

// Delete implements SessionStore
func (s *GormSessionStore) Delete(ctx context.Context, account string) error {
	return s.db.WithContext(ctx).Where("account = ?", account).Delete(&models.BrowserSession{}).Error
}

// List returns metadata for every stored session
func (s *GormSessionStore) List(ctx context.Context) ([]SessionInfo, error) {
	var rows []models.BrowserSession
	if err := s.db.WithContext(ctx).Order("account").Find(&rows).Error; err != nil {
		return nil, err
	}
	infos := make([]SessionInfo, 0, len(rows))
	for _, row := range rows {
		infos = append(infos, SessionInfo{
			Account:     row.Account,
			CookieCount: row.CookieCount,
			LoggedInAt:  row.LoggedInAt,
		})
	}
	return infos, nil
}

func (s *GormSessionStore) encrypt(plaintext []byte) (string, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", ErrEncryptionFailed
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", ErrEncryptionFailed
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", ErrEncryptionFailed
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (s *GormSessionStore) decrypt(encoded string) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, ErrDecryptionFailed
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// MemorySessionStore keeps sessions in process memory
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string][]Cookie
}

// NewMemorySessionStore creates an empty MemorySessionStore
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string][]Cookie)}
}

// Load implements SessionStore
func (s *MemorySessionStore) Load(ctx context.Context, account string) ([]Cookie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cookies, ok := s.sessions[account]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return append([]Cookie(nil), cookies...), nil
}

// Save implements SessionStore
func (s *MemorySessionStore) Save(ctx context.Context, account string, cookies []Cookie) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[account] = append([]Cookie(nil), cookies...)
	return nil
}

// Delete implements SessionStore
func (s *MemorySessionStore) Delete(ctx context.Context, account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, account)
	return nil
}
