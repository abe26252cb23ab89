package record

import (
	"errors"
	"log/slog"

	"github.com/roach88/recsync/internal/ir"
)

type mergeConfig struct {
	authoritative    bool
	preserveModified bool
}

// MergeOption configures ApplyData.
type MergeOption func(*mergeConfig)

// Authoritative treats the source as server truth: merged fields are not
// flagged as modified on the destination, and a local flag on a merged
// field is cleared. Fields the source does not carry keep their local
// state. The source's modified set is not copied.
func Authoritative() MergeOption {
	return func(c *mergeConfig) {
		c.authoritative = true
	}
}

// PreserveModified leaves fields the destination has modified locally
// untouched.
func PreserveModified() MergeOption {
	return func(c *mergeConfig) {
		c.preserveModified = true
	}
}

// ApplyData folds src into dst inside one transaction on dst.
//
// Field values are deep-copied from src, except message_class. Unless the
// merge is authoritative, src's modified flags are added to dst's. For
// every sub-store both records own, children are matched by identity
// key: a match is merged recursively, an unmatched child is added as a
// copy unless a copy of the same pending child is already present, and
// children src reports as removed are removed from dst. Children only
// dst knows are left alone.
//
// Merging a record into itself does nothing. Merging into a destroyed
// record is a misuse error.
func ApplyData(dst, src *Record, opts ...MergeOption) error {
	if dst == src {
		return nil
	}
	if dst == nil || src == nil {
		return errors.New("apply data: nil record")
	}
	if dst.destroyed {
		return misuse(ErrCodeDestroyed, dst.id, "merge into destroyed record")
	}
	if src.destroyed {
		return misuse(ErrCodeDestroyed, src.id, "merge from destroyed record")
	}

	var cfg mergeConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	dst.BeginEdit()

	for _, key := range src.data.SortedKeys() {
		if key == "message_class" {
			continue
		}
		f, ok := dst.sch.Field(key)
		if !ok {
			continue
		}
		if cfg.preserveModified && dst.IsModified(key) {
			continue
		}
		v, err := dst.sch.Convert(key, ir.Clone(src.data[key]))
		if err != nil {
			slog.Warn("merge skipped field", "record", dst.id, "field", key, "error", err)
			continue
		}
		dst.set(f, v, cfg.authoritative)
	}

	if !cfg.authoritative {
		for _, key := range src.ModifiedFields() {
			if !dst.sch.Has(key) {
				continue
			}
			if _, ok := dst.modified[key]; !ok {
				dst.modified[key] = ir.Clone(src.modified[key])
				dst.touched = true
			}
		}
	}

	dst.actions = src.Actions()
	dst.SetVersion(src.version)
	if src.opened && !dst.opened {
		dst.AfterOpen()
	}

	var mergeErr error
	for _, name := range dst.subOrder {
		ss, ok := src.subStores[name]
		if !ok {
			continue
		}
		if err := mergeSubStore(dst.subStores[name], ss, opts); err != nil {
			mergeErr = err
			break
		}
	}

	if err := dst.EndEdit(); err != nil {
		return err
	}
	return mergeErr
}

func mergeSubStore(dst, src *SubStore, opts []MergeOption) error {
	for _, child := range src.items {
		if dst.Contains(child) {
			continue
		}
		if key, ok := child.IdentityKey(); ok {
			if match := dst.FindByIdentity(key); match != nil {
				if err := ApplyData(match, child, opts...); err != nil {
					return err
				}
				continue
			}
			if dst.findRemoved(key) != nil {
				// removed locally and not yet saved
				continue
			}
		}
		if dst.findCopy(child) != nil {
			continue
		}
		if err := dst.Add(child.Copy()); err != nil {
			return err
		}
	}

	for _, gone := range src.removed {
		var match *Record
		if key, ok := gone.IdentityKey(); ok {
			match = dst.FindByIdentity(key)
		}
		if match == nil {
			match = dst.findCopy(gone)
		}
		if match == nil {
			continue
		}
		if err := dst.Remove(match); err != nil {
			return err
		}
	}
	return nil
}
