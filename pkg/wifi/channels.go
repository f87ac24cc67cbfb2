// Package wifi converts between IEEE 802.11 channel numbers and centre
// frequencies and knows the candidate channel sets per regulatory domain.
package wifi

import (
	"fmt"
	"strconv"
	"strings"
)

// RegDomainChannels represents channel sets per regulatory domain
type RegDomainChannels struct {
	Band24 []int `json:"band_24"`
	Band5  []int `json:"band_5"`
}

// ChannelsFor returns the candidate channels for a regulatory domain.
// Unknown domains get the conservative UNII-1 set.
func ChannelsFor(regDomain string, useDFS bool) RegDomainChannels {
	switch strings.ToUpper(regDomain) {
	case "ETSI":
		band5 := []int{36, 40, 44, 48}
		if useDFS {
			band5 = append(band5, 52, 56, 60, 64, 100, 104, 108, 112, 116, 120, 124, 128, 132, 136, 140)
		}
		return RegDomainChannels{
			Band24: []int{1, 5, 9, 13},
			Band5:  band5,
		}
	case "FCC":
		band5 := []int{36, 40, 44, 48, 149, 153, 157, 161}
		if useDFS {
			band5 = append(band5, 52, 56, 60, 64, 100, 104, 108, 112, 116, 120, 124, 128, 132, 136, 140)
		}
		band5 = append(band5, 165)
		return RegDomainChannels{
			Band24: []int{1, 6, 11},
			Band5:  band5,
		}
	default:
		return RegDomainChannels{
			Band24: []int{1, 6, 11},
			Band5:  []int{36, 40, 44, 48},
		}
	}
}

// Frequencies returns the 5 GHz candidate set in MHz
func (r RegDomainChannels) Frequencies() []int {
	freqs := make([]int, 0, len(r.Band5))
	for _, ch := range r.Band5 {
		freqs = append(freqs, ChannelToFreq(ch))
	}
	return freqs
}

// IsDFSChannel reports whether a 5 GHz channel requires radar detection
func IsDFSChannel(channel int) bool {
	return channel >= 52 && channel <= 144
}

// ChannelToFreq returns the centre frequency in MHz, or 0 for an unknown channel.
// Channels 1-14 are 2.4 GHz, 32-177 are 5 GHz.
func ChannelToFreq(channel int) int {
	switch {
	case channel == 14:
		return 2484
	case channel >= 1 && channel <= 13:
		return 2407 + 5*channel
	case channel >= 32 && channel <= 177:
		return 5000 + 5*channel
	}
	return 0
}

// FreqToChannel returns the channel number, or 0 for a frequency outside
// the 2.4 and 5 GHz bands.
func FreqToChannel(freq int) int {
	switch {
	case freq == 2484:
		return 14
	case freq >= 2412 && freq <= 2472 && (freq-2407)%5 == 0:
		return (freq - 2407) / 5
	case freq >= 5160 && freq <= 5885 && freq%5 == 0:
		return (freq - 5000) / 5
	}
	return 0
}

// ParseFrequencies parses a comma separated list where each entry is a
// frequency in MHz or a channel number.
func ParseFrequencies(list string) ([]int, error) {
	var freqs []int
	for _, s := range strings.Split(list, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("invalid channel %q", s)
		}
		if v < 1000 {
			f := ChannelToFreq(v)
			if f == 0 {
				return nil, fmt.Errorf("unknown channel number %d", v)
			}
			v = f
		}
		freqs = append(freqs, v)
	}
	if len(freqs) == 0 {
		return nil, fmt.Errorf("empty channel list")
	}
	return freqs, nil
}

// Label formats a frequency for display, e.g. "5180 MHz (ch 36)"
func Label(freq int) string {
	if ch := FreqToChannel(freq); ch != 0 {
		return fmt.Sprintf("%d MHz (ch %d)", freq, ch)
	}
	return fmt.Sprintf("%d MHz", freq)
}
