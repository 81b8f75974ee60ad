package vault

import (
	"context"
	"fmt"
	"sort"

	"github.com/gofiber/fiber/v2/log"
)

// Record is a stored row with secret columns keyed by column name.
type Record struct {
	ID     uint
	Fields map[string]string
}

// RecordStore is the persistence the migration needs. CompareAndSwapField
// must write next only while the column still holds prev.
type RecordStore interface {
	ListSecretRecords(ctx context.Context) ([]Record, error)
	CompareAndSwapField(ctx context.Context, id uint, field, prev, next string) (bool, error)
}

// MigrateOptions tunes a migration run.
type MigrateOptions struct {
	// Rekey also re-encrypts envelopes produced by a legacy key.
	Rekey bool
}

// MigrationResult reports how many records were inspected and changed.
type MigrationResult struct {
	Scanned int `json:"scanned"`
	Updated int `json:"updated"`
	Rekeyed int `json:"rekeyed,omitempty"`
	Skipped int `json:"skipped,omitempty"`
}

// MigrateLegacyPlaintext encrypts every plaintext secret field under the
// current key. Envelopes are left alone, so repeated runs report zero updates.
// Each field is swapped conditionally, which keeps concurrent readers on
// either the old or the new encoding.
func (v *Vault) MigrateLegacyPlaintext(ctx context.Context, store RecordStore, opts MigrateOptions) (MigrationResult, error) {
	var res MigrationResult

	records, err := store.ListSecretRecords(ctx)
	if err != nil {
		return res, fmt.Errorf("list secret records: %w", err)
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Scanned++

		changed, rekeyed := false, false
		for _, field := range sortedFields(rec.Fields) {
			prev := rec.Fields[field]
			if prev == "" {
				continue
			}

			var plaintext string
			switch {
			case !IsEnvelope(prev):
				plaintext = prev
			case opts.Rekey && v.NeedsRekey(prev):
				pt, err := v.Decrypt(prev)
				if err != nil {
					log.Errorf("[Vault] Record %d field %s cannot be rekeyed: %v", rec.ID, field, err)
					res.Skipped++
					continue
				}
				plaintext = pt
			default:
				continue
			}

			next, err := v.Encrypt(plaintext)
			if err != nil {
				return res, err
			}
			ok, err := store.CompareAndSwapField(ctx, rec.ID, field, prev, next)
			if err != nil {
				return res, fmt.Errorf("update record %d field %s: %w", rec.ID, field, err)
			}
			if !ok {
				// A concurrent writer replaced the value; it is no longer ours to migrate.
				res.Skipped++
				continue
			}
			if IsEnvelope(prev) {
				rekeyed = true
			} else {
				changed = true
			}
		}
		if changed {
			res.Updated++
		}
		if rekeyed {
			res.Rekeyed++
		}
	}

	log.Infof("[Vault] Migration finished: scanned=%d updated=%d rekeyed=%d skipped=%d",
		res.Scanned, res.Updated, res.Rekeyed, res.Skipped)
	return res, nil
}

func sortedFields(fields map[string]string) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
