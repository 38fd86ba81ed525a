package store

import (
	"context"

	"flightledger/internal/models"
)

// ProfileStore reads the user profiles owned by the identity provider.
type ProfileStore struct {
	db DB
}

func NewProfileStore(db DB) *ProfileStore {
	return &ProfileStore{db: db}
}

func (s *ProfileStore) GetByID(ctx context.Context, userID string) (models.Profile, error) {
	var row models.Profile
	err := s.db.GetContext(ctx, &row, `SELECT id, full_name, email FROM profiles WHERE id = $1`, userID)
	if err != nil {
		return models.Profile{}, err
	}
	return row, nil
}
