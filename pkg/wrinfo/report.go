// Package wrinfo decodes the JSON report printed by the wrinfo measurement
// agent running on each access point.
package wrinfo

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Report is one agent run. Numeric attributes the driver did not report are
// omitted by the agent and decode as nil.
type Report struct {
	Interface *Interface    `json:"interface"`
	Scan      []ScanEntry   `json:"scan"`
	Survey    []SurveyEntry `json:"survey"`
	Meta      *Meta         `json:"meta"`
}

// Interface describes the measured radio
type Interface struct {
	Name         string  `json:"interface,omitempty"`
	IfIndex      *uint32 `json:"ifindex,omitempty"`
	MAC          string  `json:"mac,omitempty"`
	SSID         string  `json:"ssid,omitempty"`
	Frequency    *uint32 `json:"frequency,omitempty"`
	ChannelWidth *uint32 `json:"channel_width_enum,omitempty"`
	CenterFreq1  *uint32 `json:"center_freq1,omitempty"`
	CenterFreq2  *uint32 `json:"center_freq2,omitempty"`
	ChannelType  *uint32 `json:"channel_type_enum,omitempty"`
}

// ScanEntry is one BSS seen during the scan
type ScanEntry struct {
	BSSID     string  `json:"bssid,omitempty"`
	Frequency *uint32 `json:"frequency,omitempty"`
	SSID      string  `json:"ssid,omitempty"`
}

// SurveyEntry is the nl80211 survey dump for one frequency
type SurveyEntry struct {
	Frequency *uint32 `json:"frequency,omitempty"`
	InUse     bool    `json:"in_use"`
	Noise     *int8   `json:"noise,omitempty"`
	Time      *uint64 `json:"time,omitempty"`
	Busy      *uint64 `json:"busy,omitempty"`
	ExtBusy   *uint64 `json:"ext_busy,omitempty"`
	Rx        *uint64 `json:"rx,omitempty"`
	Tx        *uint64 `json:"tx,omitempty"`
}

// Meta records how and when the agent ran
type Meta struct {
	Cmdline   string `json:"cmdline,omitempty"`
	TimeHuman string `json:"time_human,omitempty"`
	TimeUnix  int64  `json:"time_unix,omitempty"`
}

// SectionError lists report sections that were missing or malformed
type SectionError struct {
	Sections []string
}

func (e *SectionError) Error() string {
	return fmt.Sprintf("bad report sections: %s", strings.Join(e.Sections, ", "))
}

// Parse decodes agent output. When only some sections are bad, the good ones
// are returned together with a *SectionError so they can still be stored.
func Parse(data []byte) (*Report, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode wrinfo output: %w", err)
	}

	report := &Report{}
	var bad []string

	decode := func(name string, dst interface{}, wantArray bool) {
		msg, ok := raw[name]
		if !ok || !isKind(msg, wantArray) {
			bad = append(bad, name)
			return
		}
		if err := json.Unmarshal(msg, dst); err != nil {
			bad = append(bad, name)
		}
	}

	var iface Interface
	decode("interface", &iface, false)
	if !contains(bad, "interface") {
		report.Interface = &iface
	}

	var meta Meta
	decode("meta", &meta, false)
	if !contains(bad, "meta") {
		report.Meta = &meta
	}

	decode("scan", &report.Scan, true)
	decode("survey", &report.Survey, true)

	if len(bad) > 0 {
		return report, &SectionError{Sections: bad}
	}
	return report, nil
}

func isKind(msg json.RawMessage, wantArray bool) bool {
	s := strings.TrimSpace(string(msg))
	if s == "" {
		return false
	}
	if wantArray {
		return s[0] == '['
	}
	return s[0] == '{'
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
