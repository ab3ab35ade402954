package profile

import (
	"os"
	"strings"

	"codeberg.org/mutker/iswctl/internal/errors"
)

// DefaultPath is where the profile database is installed.
const DefaultPath = "/etc/isw.conf"

// Database maps board identifiers to profiles.
type Database struct {
	profiles map[string]*FanProfile
	order    []string
	errs     []error
}

// Resolve looks up board. Lookups are exact and case-sensitive.
func (db *Database) Resolve(board string) (*FanProfile, error) {
	p, ok := db.profiles[board]
	if !ok {
		return nil, errors.New().WithData(errors.ErrProfileNotFound, struct{ Board string }{board})
	}
	return p, nil
}

// Boards returns the loaded board identifiers in file order.
func (db *Database) Boards() []string {
	return append([]string(nil), db.order...)
}

// Errors returns one ProfileParseError per rejected section.
func (db *Database) Errors() []error {
	return append([]error(nil), db.errs...)
}

// LoadFile parses the database at path.
func LoadFile(path string) (*Database, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New().WrapWithData(errors.ErrProfileParse, err, struct{ Path string }{path})
	}
	defer f.Close()

	return Parse(f)
}

// Detector reports the board identifier of the running machine.
type Detector func() (string, error)

// Store resolves profiles for explicit or detected boards.
type Store struct {
	db       *Database
	detect   Detector
	fallback string
}

type StoreOption func(*Store)

// WithFallback names the board used when a detected board has no profile.
func WithFallback(board string) StoreOption {
	return func(s *Store) {
		s.fallback = board
	}
}

func NewStore(db *Database, detect Detector, opts ...StoreOption) *Store {
	s := &Store{db: db, detect: detect}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Database() *Database { return s.db }

// Resolve looks up a board the user named. It never falls back.
func (s *Store) Resolve(board string) (*FanProfile, error) {
	return s.db.Resolve(board)
}

// ResolveDetected looks up a detected board, falling back to the configured
// fallback board when the machine has no profile of its own.
func (s *Store) ResolveDetected(board string) (*FanProfile, error) {
	p, err := s.db.Resolve(board)
	if err == nil || s.fallback == "" || s.fallback == board {
		return p, err
	}
	if fp, ferr := s.db.Resolve(s.fallback); ferr == nil {
		return fp, nil
	}
	return nil, err
}

// AutoDetectBoardID asks the platform for the board identifier.
func (s *Store) AutoDetectBoardID() (string, error) {
	if s.detect == nil {
		return "", errors.New().WithMessage(errors.ErrHardwareUnavailable, "no board detector configured")
	}
	board, err := s.detect()
	if err != nil {
		return "", errors.New().Wrap(errors.ErrHardwareUnavailable, err).WithMessage("cannot detect board")
	}
	board = strings.TrimSpace(board)
	if board == "" {
		return "", errors.New().WithMessage(errors.ErrHardwareUnavailable, "board identifier is empty")
	}
	return board, nil
}

// Detect resolves the profile of the running machine.
func (s *Store) Detect() (*FanProfile, error) {
	board, err := s.AutoDetectBoardID()
	if err != nil {
		return nil, err
	}
	return s.ResolveDetected(board)
}
