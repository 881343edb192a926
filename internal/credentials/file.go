package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/xprocessing/neoaigc/internal/domain"
	"github.com/xprocessing/neoaigc/internal/storage"
)

type savedCredential struct {
	Token   string    `json:"token"`
	SavedAt time.Time `json:"saved_at"`
}

// FilePersister keeps one credential per profile as JSON inside the state dir.
type FilePersister struct {
	store *storage.FileStore
	key   string
}

func NewFilePersister(store *storage.FileStore, profile string) *FilePersister {
	profile = strings.TrimSpace(profile)
	if profile == "" {
		profile = "default"
	}
	return &FilePersister{store: store, key: "credentials/" + profile + ".json"}
}

func (p *FilePersister) Load(ctx context.Context) (domain.Credential, error) {
	raw, err := p.store.Read(ctx, p.key)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	var saved savedCredential
	if err := json.Unmarshal(raw, &saved); err != nil {
		return "", err
	}
	return domain.Credential(saved.Token), nil
}

func (p *FilePersister) Save(ctx context.Context, token domain.Credential) error {
	raw, err := json.Marshal(savedCredential{Token: string(token), SavedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	_, err = p.store.Write(ctx, p.key, raw)
	return err
}

func (p *FilePersister) Delete(ctx context.Context) error {
	return p.store.Remove(ctx, p.key)
}
