package wrinfo

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullReport = `{
 "interface": {"interface": "wlan0", "ifindex": 5, "mac": "02:00:00:00:00:01",
   "ssid": "lab", "frequency": 5180, "channel_width_enum": 1},
 "scan": [
   {"bssid": "02:00:00:00:00:02", "frequency": 5180, "ssid": "lab"},
   {"bssid": "aa:bb:cc:dd:ee:ff", "frequency": 5200}
 ],
 "survey": [
   {"frequency": 5180, "in_use": true, "noise": -92, "time": 1000, "busy": 400, "rx": 50, "tx": 100},
   {"frequency": 5200, "in_use": false, "noise": -95}
 ],
 "meta": {"cmdline": "./wrinfo -i wlan0", "time_human": "Thu Jan  1 00:00:00 1970\n", "time_unix": 1700000000}
}`

func TestParse_Full(t *testing.T) {
	r, err := Parse([]byte(fullReport))
	require.NoError(t, err)

	require.NotNil(t, r.Interface)
	assert.Equal(t, "wlan0", r.Interface.Name)
	assert.Equal(t, "02:00:00:00:00:01", r.Interface.MAC)
	require.NotNil(t, r.Interface.Frequency)
	assert.Equal(t, uint32(5180), *r.Interface.Frequency)
	assert.Nil(t, r.Interface.CenterFreq1)

	require.Len(t, r.Scan, 2)
	assert.NotNil(t, r.Scan[1].Frequency)
	assert.Equal(t, "", r.Scan[1].SSID)

	require.Len(t, r.Survey, 2)
	assert.True(t, r.Survey[0].InUse)
	require.NotNil(t, r.Survey[0].Noise)
	assert.Equal(t, int8(-92), *r.Survey[0].Noise)
	assert.Equal(t, uint64(400), *r.Survey[0].Busy)
	assert.Nil(t, r.Survey[1].Time)
	assert.Nil(t, r.Survey[1].Tx)

	require.NotNil(t, r.Meta)
	assert.Equal(t, int64(1700000000), r.Meta.TimeUnix)
}

func TestParse_BadSections(t *testing.T) {
	r, err := Parse([]byte(`{"interface": [], "scan": [], "survey": {"x": 1}}`))

	var se *SectionError
	require.True(t, errors.As(err, &se))
	assert.ElementsMatch(t, []string{"interface", "survey", "meta"}, se.Sections)

	require.NotNil(t, r)
	assert.Nil(t, r.Interface)
	assert.Nil(t, r.Meta)
	assert.NotNil(t, r.Scan)
}

func TestParse_NotJSON(t *testing.T) {
	r, err := Parse([]byte("Error: nl80211 not found"))
	assert.Error(t, err)
	assert.Nil(t, r)
}

func TestParse_NotObject(t *testing.T) {
	_, err := Parse([]byte(`[1, 2]`))
	assert.Error(t, err)
}
