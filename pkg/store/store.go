// Package store keeps access points, radio interfaces and agent measurements
// in a SQLite database and serves them to the planner.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/markus-lassfolk/specman/pkg"
	"github.com/markus-lassfolk/specman/pkg/graph"
	"github.com/markus-lassfolk/specman/pkg/logx"
)

// ErrNotFound is returned when a looked-up row does not exist
var ErrNotFound = errors.New("not found")

// Store is the telemetry database
type Store struct {
	db     *sql.DB
	path   string
	logger *logx.Logger
}

// AccessPoint is a device reachable over ssh
type AccessPoint struct {
	ID     int64  `json:"id"`
	IPAddr string `json:"ip_addr"`
	InUse  bool   `json:"in_use"`
}

// RadioInterface is one radio on an access point
type RadioInterface struct {
	ID         int64          `json:"id"`
	APID       int64          `json:"ap_id"`
	Ifname     string         `json:"ifname"`
	Measuring  bool           `json:"measuring"`
	Optimising bool           `json:"optimising"`
	SurveyType pkg.SurveyType `json:"survey_type"`
	WrinfoCmd  string         `json:"wrinfo_cmd,omitempty"` // pre-made agent command line
}

// Endpoint is where a radio interface is reached for remote commands
type Endpoint struct {
	IPAddr string `json:"ip_addr"`
	Ifname string `json:"ifname"`
}

const schema = `
CREATE TABLE IF NOT EXISTS ap (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ip_addr TEXT NOT NULL,
	in_use BOOLEAN NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS radio_if (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ap_id INTEGER NOT NULL REFERENCES ap(id),
	ifname TEXT NOT NULL,
	measuring BOOLEAN NOT NULL DEFAULT 1,
	optimising BOOLEAN NOT NULL DEFAULT 0,
	survey_type INTEGER NOT NULL DEFAULT 0,
	wrinfo_cmd TEXT
);

CREATE TABLE IF NOT EXISTS rungroup (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	cmd TEXT,
	servertime INTEGER NOT NULL,
	tag TEXT
);

CREATE TABLE IF NOT EXISTS wrinfo (
	wrinfo_id INTEGER PRIMARY KEY AUTOINCREMENT,
	radio_if_id INTEGER NOT NULL REFERENCES radio_if(id),
	status INTEGER NOT NULL,
	exit_code INTEGER,
	servertime INTEGER NOT NULL,
	rungroup_id INTEGER REFERENCES rungroup(id)
);

CREATE TABLE IF NOT EXISTS wrinfo_errors (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	wrinfo_id INTEGER NOT NULL REFERENCES wrinfo(wrinfo_id),
	msg TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS wrinfo_meta (
	wrinfo_id INTEGER NOT NULL REFERENCES wrinfo(wrinfo_id),
	cmd TEXT,
	time_human TEXT,
	time_unix INTEGER
);

CREATE TABLE IF NOT EXISTS wrinfo_interface (
	wrinfo_id INTEGER NOT NULL REFERENCES wrinfo(wrinfo_id),
	ifindex INTEGER,
	mac TEXT,
	ssid TEXT,
	frequency INTEGER,
	channel_width_enum INTEGER,
	center_freq1 INTEGER,
	center_freq2 INTEGER,
	channel_type_enum INTEGER
);

CREATE TABLE IF NOT EXISTS wrinfo_scan (
	wrinfo_id INTEGER NOT NULL REFERENCES wrinfo(wrinfo_id),
	bssid TEXT,
	frequency INTEGER,
	ssid TEXT
);

CREATE TABLE IF NOT EXISTS wrinfo_survey (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	wrinfo_id INTEGER NOT NULL REFERENCES wrinfo(wrinfo_id),
	frequency INTEGER,
	in_use BOOLEAN NOT NULL DEFAULT 0,
	noise INTEGER,
	time INTEGER,
	busy INTEGER,
	rx INTEGER,
	tx INTEGER
);

CREATE INDEX IF NOT EXISTS idx_wrinfo_radio_time ON wrinfo(radio_if_id, servertime);
CREATE INDEX IF NOT EXISTS idx_wrinfo_survey_freq ON wrinfo_survey(wrinfo_id, frequency);
CREATE INDEX IF NOT EXISTS idx_wrinfo_scan_id ON wrinfo_scan(wrinfo_id);
`

// Open opens (creating if needed) the database at path
func Open(path string, logger *logx.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	logger.Debug("Telemetry database opened", "path", path)
	return &Store{db: db, path: path, logger: logger}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// AddAccessPoint registers an access point
func (s *Store) AddAccessPoint(ctx context.Context, ap AccessPoint) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO ap (ip_addr, in_use) VALUES (?, ?)`, ap.IPAddr, ap.InUse)
	if err != nil {
		return 0, fmt.Errorf("failed to insert access point: %w", err)
	}
	return res.LastInsertId()
}

// AddRadioInterface registers a radio interface
func (s *Store) AddRadioInterface(ctx context.Context, ri RadioInterface) (int64, error) {
	var cmd interface{}
	if ri.WrinfoCmd != "" {
		cmd = ri.WrinfoCmd
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO radio_if (ap_id, ifname, measuring, optimising, survey_type, wrinfo_cmd)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ri.APID, ri.Ifname, ri.Measuring, ri.Optimising, int(ri.SurveyType), cmd)
	if err != nil {
		return 0, fmt.Errorf("failed to insert radio interface: %w", err)
	}
	return res.LastInsertId()
}

// RadioInterface looks up a radio interface by id
func (s *Store) RadioInterface(ctx context.Context, id int64) (*RadioInterface, error) {
	var ri RadioInterface
	var st int
	var cmd sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, ap_id, ifname, measuring, optimising, survey_type, wrinfo_cmd
		FROM radio_if WHERE id = ?`, id).
		Scan(&ri.ID, &ri.APID, &ri.Ifname, &ri.Measuring, &ri.Optimising, &st, &cmd)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("radio interface %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query radio interface %d: %w", id, err)
	}
	ri.SurveyType = pkg.ParseSurveyType(st)
	ri.WrinfoCmd = cmd.String
	return &ri, nil
}

// AccessPoint looks up an access point by id
func (s *Store) AccessPoint(ctx context.Context, id int64) (*AccessPoint, error) {
	var ap AccessPoint
	err := s.db.QueryRowContext(ctx, `SELECT id, ip_addr, in_use FROM ap WHERE id = ?`, id).
		Scan(&ap.ID, &ap.IPAddr, &ap.InUse)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("access point %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query access point %d: %w", id, err)
	}
	return &ap, nil
}

// ListOptimizableNodes returns the interfaces flagged for optimization that
// have reported their MAC address at least once, ordered by id.
func (s *Store) ListOptimizableNodes(ctx context.Context) ([]pkg.Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT radio_if.id, MIN(wrinfo_interface.mac)
		FROM radio_if
		JOIN wrinfo ON wrinfo.radio_if_id = radio_if.id
		JOIN wrinfo_interface ON wrinfo_interface.wrinfo_id = wrinfo.wrinfo_id
		WHERE radio_if.optimising = 1 AND wrinfo_interface.mac IS NOT NULL
		GROUP BY radio_if.id
		ORDER BY radio_if.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query optimizable nodes: %w", err)
	}
	defer rows.Close()

	var nodes []pkg.Node
	for rows.Next() {
		var n pkg.Node
		if err := rows.Scan(&n.IfaceID, &n.MAC); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// ListVisibilityPairs returns every distinct (interface MAC, scanned BSSID)
func (s *Store) ListVisibilityPairs(ctx context.Context) ([]graph.VisibilityPair, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT wrinfo_interface.mac, wrinfo_scan.bssid
		FROM wrinfo_interface
		JOIN wrinfo_scan ON wrinfo_interface.wrinfo_id = wrinfo_scan.wrinfo_id
		WHERE wrinfo_interface.mac IS NOT NULL AND wrinfo_scan.bssid IS NOT NULL
		ORDER BY wrinfo_interface.mac, wrinfo_scan.bssid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query visibility pairs: %w", err)
	}
	defer rows.Close()

	var pairs []graph.VisibilityPair
	for rows.Next() {
		var p graph.VisibilityPair
		if err := rows.Scan(&p.MAC, &p.BSSID); err != nil {
			return nil, fmt.Errorf("failed to scan visibility pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// SurveyType returns the survey type of an interface; unknown interfaces
// have no usable telemetry.
func (s *Store) SurveyType(ctx context.Context, ifaceID int64) (pkg.SurveyType, error) {
	var code int
	err := s.db.QueryRowContext(ctx, `SELECT survey_type FROM radio_if WHERE id = ?`, ifaceID).Scan(&code)
	if errors.Is(err, sql.ErrNoRows) {
		return pkg.SurveyNone, nil
	}
	if err != nil {
		return pkg.SurveyNone, fmt.Errorf("failed to query survey type: %w", err)
	}
	return pkg.ParseSurveyType(code), nil
}

// SetSurveyType updates the survey type of an interface
func (s *Store) SetSurveyType(ctx context.Context, ifaceID int64, st pkg.SurveyType) error {
	_, err := s.db.ExecContext(ctx, `UPDATE radio_if SET survey_type = ? WHERE id = ?`, int(st), ifaceID)
	if err != nil {
		return fmt.Errorf("failed to update survey type: %w", err)
	}
	return nil
}

const sampleColumns = `wrinfo.servertime, wrinfo_survey.frequency, wrinfo_survey.in_use,
	wrinfo_survey.time, wrinfo_survey.busy, wrinfo_survey.rx, wrinfo_survey.tx`

// FetchSamples returns the survey rows of one interface on one frequency
// collected at or after since, in collection order.
func (s *Store) FetchSamples(ctx context.Context, ifaceID int64, freq int, since int64) ([]pkg.RawSample, error) {
	return s.querySamples(ctx, `
		SELECT `+sampleColumns+`
		FROM wrinfo JOIN wrinfo_survey ON wrinfo.wrinfo_id = wrinfo_survey.wrinfo_id
		WHERE wrinfo_survey.frequency = ? AND wrinfo.radio_if_id = ? AND wrinfo.servertime >= ?
		ORDER BY wrinfo.wrinfo_id, wrinfo_survey.id`, freq, ifaceID, since)
}

// FetchInUseSamples returns the rows for whatever channel the interface was
// operating on, at or after since, in collection order.
func (s *Store) FetchInUseSamples(ctx context.Context, ifaceID int64, since int64) ([]pkg.RawSample, error) {
	return s.querySamples(ctx, `
		SELECT `+sampleColumns+`
		FROM wrinfo JOIN wrinfo_survey ON wrinfo.wrinfo_id = wrinfo_survey.wrinfo_id
		WHERE wrinfo_survey.in_use = 1 AND wrinfo.radio_if_id = ? AND wrinfo.servertime >= ?
		ORDER BY wrinfo.wrinfo_id, wrinfo_survey.id`, ifaceID, since)
}

func (s *Store) querySamples(ctx context.Context, query string, args ...interface{}) ([]pkg.RawSample, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query survey samples: %w", err)
	}
	defer rows.Close()

	var out []pkg.RawSample
	for rows.Next() {
		var r pkg.RawSample
		var freq sql.NullInt64
		var elapsed, busy, rx, tx sql.NullInt64
		if err := rows.Scan(&r.WallTime, &freq, &r.InUse, &elapsed, &busy, &rx, &tx); err != nil {
			return nil, fmt.Errorf("failed to scan survey sample: %w", err)
		}
		r.Frequency = int(freq.Int64)
		r.Elapsed = counter(elapsed)
		r.Busy = counter(busy)
		r.Rx = counter(rx)
		r.Tx = counter(tx)
		out = append(out, r)
	}
	return out, rows.Err()
}

func counter(v sql.NullInt64) pkg.Counter {
	return pkg.Counter{Value: v.Int64, Valid: v.Valid}
}

// Endpoints resolves the address and interface name of each radio interface,
// in the order given.
func (s *Store) Endpoints(ctx context.Context, ifaceIDs []int64) ([]Endpoint, error) {
	out := make([]Endpoint, 0, len(ifaceIDs))
	for _, id := range ifaceIDs {
		var e Endpoint
		err := s.db.QueryRowContext(ctx, `
			SELECT ap.ip_addr, radio_if.ifname
			FROM radio_if JOIN ap ON ap.id = radio_if.ap_id
			WHERE radio_if.id = ?`, id).Scan(&e.IPAddr, &e.Ifname)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("endpoint for radio interface %d: %w", id, ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query endpoint for radio interface %d: %w", id, err)
		}
		out = append(out, e)
	}
	return out, nil
}
