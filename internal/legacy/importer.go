package legacy

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/meddigitize/meddigitize/internal/domain/identity"
	"github.com/meddigitize/meddigitize/internal/domain/records"
)

type RecordCreator interface {
	CreateRecord(ctx context.Context, rec *records.Record) error
}

type UserLookup interface {
	GetByUsername(ctx context.Context, username string) (*identity.User, error)
}

// Report counts what an import did.
type Report struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

type Importer struct {
	src     Source
	records RecordCreator
	users   UserLookup
	logger  zerolog.Logger
}

func NewImporter(src Source, creator RecordCreator, users UserLookup, logger zerolog.Logger) *Importer {
	return &Importer{src: src, records: creator, users: users, logger: logger}
}

// Run copies every legacy row to owner's records. Rows lacking a patient name
// or raw text are skipped; any other failure aborts the run.
func (im *Importer) Run(ctx context.Context, owner string) (Report, error) {
	var rep Report

	u, err := im.users.GetByUsername(ctx, owner)
	if err != nil {
		return rep, fmt.Errorf("resolve owner %q: %w", owner, err)
	}
	ownerID := u.ID

	err = im.src.Each(ctx, func(row map[string]any) error {
		n := records.Normalize(row)
		rec := n.Record()
		rec.UserID = &ownerID

		if err := im.records.CreateRecord(ctx, rec); err != nil {
			if errors.Is(err, records.ErrMissingRequired) {
				rep.Skipped++
				im.logger.Debug().Str("legacy_id", n.ID).Msg("skipping incomplete row")
				return nil
			}
			return fmt.Errorf("import row %s: %w", n.ID, err)
		}
		rep.Imported++
		return nil
	})
	if err != nil {
		return rep, err
	}

	im.logger.Info().
		Str("owner", owner).
		Int("imported", rep.Imported).
		Int("skipped", rep.Skipped).
		Msg("legacy import finished")
	return rep, nil
}
