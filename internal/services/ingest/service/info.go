package service

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	perr "ghstrata/internal/platform/errors"
	"ghstrata/internal/platform/logger"
	"ghstrata/internal/services/ingest/domain"
)

// Info summarizes the dataset on disk: coverage from the day indexes, partitions and leftovers
func (s *Service) Info(ctx context.Context) (domain.Info, error) {
	info := domain.Info{Root: s.Cfg.Root}

	dates, err := s.Index.Dates(ctx)
	if err != nil {
		return info, err
	}
	for _, d := range dates {
		idx, err := s.Index.Load(ctx, d)
		if err != nil {
			if perr.IsCode(err, perr.ErrorCodeCorrupt) {
				info.Corrupt = append(info.Corrupt, domain.DateKey(d))
				continue
			}
			return info, err
		}
		c := idx.Counts()
		info.Days++
		info.HoursTotal += domain.HoursPerDay
		info.HoursFound += c.HoursSucceeded
		info.HoursAbsent += c.HoursNotFound
		info.HoursError += c.HoursError
		for h, slot := range idx.Hours {
			if slot.Status != domain.StatusSuccess {
				continue
			}
			t := d.Add(time.Duration(h) * time.Hour)
			if info.First.IsZero() || t.Before(info.First) {
				info.First = t
			}
			if t.After(info.Last) {
				info.Last = t
			}
		}
	}
	if info.HoursTotal > 0 {
		info.Coverage = 100 * float64(info.HoursFound) / float64(info.HoursTotal)
	}

	parts, err := s.Archive.Partitions(ctx)
	if err != nil {
		return info, err
	}
	info.Partitions = len(parts)

	staged, err := s.Stage.Dates(ctx)
	if err != nil {
		return info, err
	}
	for _, d := range staged {
		info.Staged = append(info.Staged, domain.DateKey(d))
	}

	if s.Cfg.Root != "" {
		size, err := dirSize(s.Cfg.Root)
		if err != nil {
			return info, perr.Wrapf(err, perr.ErrorCodeStorage, "ingest: size of %s", s.Cfg.Root)
		}
		info.SizeBytes = size
	}
	return info, nil
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return fs.SkipAll
			}
			return err
		}
		if d.Type().IsRegular() {
			fi, err := d.Info()
			if err != nil {
				return err
			}
			total += fi.Size()
		}
		return nil
	})
	return total, err
}

// Reset removes the index, staging and partition of date, or of every date when date is nil
func (s *Service) Reset(ctx context.Context, date *time.Time) error {
	log := logger.C(ctx)
	if date != nil {
		d := domain.DateOf(*date)
		return s.locks.With(ctx, d, func(ctx context.Context) error {
			if err := s.resetDate(ctx, d); err != nil {
				return err
			}
			if err := s.Archive.RemovePartition(ctx, &d); err != nil {
				return err
			}
			log.Info().Str("date", domain.DateKey(d)).Msg("ingest: date reset")
			return nil
		})
	}

	seen := map[time.Time]bool{}
	idx, err := s.Index.Dates(ctx)
	if err != nil {
		return err
	}
	staged, err := s.Stage.Dates(ctx)
	if err != nil {
		return err
	}
	for _, d := range append(idx, staged...) {
		if seen[d] {
			continue
		}
		seen[d] = true
		if err := s.locks.With(ctx, d, func(ctx context.Context) error { return s.resetDate(ctx, d) }); err != nil {
			return err
		}
	}
	if err := s.Archive.RemovePartition(ctx, nil); err != nil {
		return err
	}
	log.Info().Int("dates", len(seen)).Msg("ingest: dataset reset")
	return nil
}

func (s *Service) resetDate(ctx context.Context, d time.Time) error {
	if err := s.Index.Remove(ctx, d); err != nil {
		return err
	}
	return s.Stage.Drop(ctx, d)
}
