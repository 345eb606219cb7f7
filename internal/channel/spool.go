package channel

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/xchange/internal/model"
)

const frameExt = ".frame"

// Spool is a directory-backed channel. Each domain owns an inbox directory
// <root>/<hex domain>; a domain is reachable only while its inbox exists.
//
// File names are "<uuidv7>.<hex sender>.frame". UUIDv7 sorts by creation
// time, so listing an inbox in name order yields per-sender send order.
// Receive deletes each file after reading it: a crash between read and
// delete may redeliver, a crash before rename never delivers.
type Spool struct {
	root string
	self model.DomainID
}

var (
	_ Sender   = (*Spool)(nil)
	_ Receiver = (*Spool)(nil)
)

// OpenSpool creates the local inbox under root and returns the spool.
func OpenSpool(root string, self model.DomainID) (*Spool, error) {
	if root == "" {
		return nil, errors.New("channel: spool root is empty")
	}
	s := &Spool{root: root, self: self}
	if err := os.MkdirAll(s.inbox(self), 0o755); err != nil {
		return nil, fmt.Errorf("create inbox: %w", err)
	}
	return s, nil
}

func (s *Spool) inbox(domain model.DomainID) string {
	return filepath.Join(s.root, hex.EncodeToString([]byte(domain)))
}

// Send writes payload into dest's inbox.
func (s *Spool) Send(ctx context.Context, dest model.DomainID, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := s.inbox(dest)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrUnreachable, dest)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("spool send: %w", err)
	}
	name := id.String() + "." + hex.EncodeToString([]byte(s.self)) + frameExt

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("spool send: %w", err)
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("spool send: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("spool send: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("spool send: %w", err)
	}
	return nil
}

// Receive reads and removes every complete frame in the local inbox.
// Files that do not follow the naming scheme are left alone.
func (s *Spool) Receive(ctx context.Context) ([]Delivery, error) {
	dir := s.inbox(s.self)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("spool receive: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), frameExt) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	seq := make(map[model.DomainID]uint64)
	out := make([]Delivery, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		sender, ok := parseFrameName(name)
		if !ok {
			continue
		}
		path := filepath.Join(dir, name)
		payload, err := os.ReadFile(path)
		if err != nil {
			return out, fmt.Errorf("spool receive: %w", err)
		}
		if err := os.Remove(path); err != nil {
			return out, fmt.Errorf("spool receive: %w", err)
		}
		seq[sender]++
		out = append(out, Delivery{Sender: sender, SeqHint: seq[sender], Payload: payload})
	}
	return out, nil
}

func parseFrameName(name string) (model.DomainID, bool) {
	parts := strings.Split(strings.TrimSuffix(name, frameExt), ".")
	if len(parts) != 2 {
		return "", false
	}
	raw, err := hex.DecodeString(parts[1])
	if err != nil || len(raw) == 0 {
		return "", false
	}
	return model.DomainID(raw), true
}
