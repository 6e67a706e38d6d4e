// Package storage persists the small set of state that must survive a
// restart: the spontaneously generated ULA /48 (so nodes don't flap
// between different self-assigned ULAs across reboots) and the
// per-(link, DP) sub-prefix cache the Storage rule consults (§4.6,
// §4.10). It is a single line-oriented file, rewritten atomically on
// every save; there is no database here, just a handful of idempotent
// key/value lines.
package storage

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	recordKindULA    = "ula"
	recordKindLease  = "lease"
	recordKindNodeID = "nodeid"
)

// Store is an in-memory mirror of the persisted file, flushed to disk on
// every Save call.
type Store struct {
	path string

	ula    *netip.Prefix
	leases map[leaseKey]netip.Prefix
	nodeID []byte
}

type leaseKey struct {
	LinkID int
	DP     string
}

// Open loads path if it exists, starting empty if it does not.
func Open(path string) (*Store, error) {
	s := &Store{path: path, leases: make(map[leaseKey]netip.Prefix)}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := s.parseLine(line); err != nil {
			// Skip malformed lines rather than failing reload entirely;
			// a single corrupted record shouldn't block startup.
			continue
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) parseLine(line string) error {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return fmt.Errorf("storage: malformed line %q", line)
	}
	switch fields[0] {
	case recordKindULA:
		p, err := netip.ParsePrefix(fields[1])
		if err != nil {
			return err
		}
		s.ula = &p
	case recordKindLease:
		if len(fields) < 4 {
			return fmt.Errorf("storage: malformed lease line %q", line)
		}
		linkID, err := strconv.Atoi(fields[1])
		if err != nil {
			return err
		}
		dp, err := netip.ParsePrefix(fields[2])
		if err != nil {
			return err
		}
		assigned, err := netip.ParsePrefix(fields[3])
		if err != nil {
			return err
		}
		s.leases[leaseKey{linkID, dp.String()}] = assigned
	case recordKindNodeID:
		id, err := hex.DecodeString(fields[1])
		if err != nil {
			return err
		}
		s.nodeID = id
	default:
		return fmt.Errorf("storage: unknown record kind %q", fields[0])
	}
	return nil
}

// ULA returns the cached ULA /48, if any.
func (s *Store) ULA() (netip.Prefix, bool) {
	if s.ula == nil {
		return netip.Prefix{}, false
	}
	return *s.ula, true
}

// SetULA records the node's spontaneously generated ULA and persists it.
func (s *Store) SetULA(p netip.Prefix) error {
	s.ula = &p
	return s.flush()
}

// NodeID returns the persisted flooding-engine identifier, if any.
func (s *Store) NodeID() ([]byte, bool) {
	if s.nodeID == nil {
		return nil, false
	}
	return append([]byte(nil), s.nodeID...), true
}

// SetNodeID records the node's identifier and persists it, so restarts
// rejoin the flooding network under the same identity instead of a fresh
// random one the rest of the network has no memory of.
func (s *Store) SetNodeID(id []byte) error {
	s.nodeID = append([]byte(nil), id...)
	return s.flush()
}

// Lookup implements pa.Storage: it is handed directly to pa.New.
func (s *Store) Lookup(linkID int, dp netip.Prefix) (netip.Prefix, bool) {
	p, ok := s.leases[leaseKey{linkID, dp.String()}]
	return p, ok
}

// Save implements pa.Storage, persisting every call so a restart reuses
// the same sub-prefix for a given (link, DP) whenever possible.
func (s *Store) Save(linkID int, dp netip.Prefix, assigned netip.Prefix) {
	s.leases[leaseKey{linkID, dp.String()}] = assigned
	_ = s.flush()
}

// flush rewrites the whole file. Small state, small file: a full rewrite
// keeps the format trivially idempotent to reload and audit by hand.
func (s *Store) flush() error {
	if s.path == "" {
		return nil
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".storage-*")
	if err != nil {
		return fmt.Errorf("storage: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if s.ula != nil {
		fmt.Fprintf(w, "%s %s\n", recordKindULA, s.ula.String())
	}
	if s.nodeID != nil {
		fmt.Fprintf(w, "%s %s\n", recordKindNodeID, hex.EncodeToString(s.nodeID))
	}
	for key, assigned := range s.leases {
		dp, err := netip.ParsePrefix(key.DP)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "%s %d %s %s\n", recordKindLease, key.LinkID, dp.String(), assigned.String())
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("storage: rename into place: %w", err)
	}
	return nil
}
