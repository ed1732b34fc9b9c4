package store

import "context"

// ExtractedEntity is a typed entity derived from a chunk by the entity
// extractor. Rows are write-once; entity-aware retrieval queries them by text.
type ExtractedEntity struct {
	ID                 int64
	ChunkID            string
	DocumentID         string
	Type               string
	Text               string
	Attributes         map[string]string
	Confidence         float32
	CharStart          int
	CharEnd            int
	VerificationStatus string
	CreatedTs          int64
}

// FindEntitiesMatching filters entities whose text matches any of the tokens
// (case-insensitive).
type FindEntitiesMatching struct {
	Tokens []string
	Limit  int
}

func (s *Store) InsertEntities(ctx context.Context, entities []*ExtractedEntity) error {
	if len(entities) == 0 {
		return nil
	}
	return s.driver.InsertEntities(ctx, entities)
}

func (s *Store) GetEntitiesMatching(ctx context.Context, find *FindEntitiesMatching) ([]*ExtractedEntity, error) {
	if len(find.Tokens) == 0 {
		return []*ExtractedEntity{}, nil
	}
	return s.driver.GetEntitiesMatching(ctx, find)
}
