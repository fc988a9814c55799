package printer

import (
	"errors"
	"strings"

	"github.com/thereceipt/escpos-bridge/internal/discovery"
	"github.com/thereceipt/escpos-bridge/internal/escpos"
	"github.com/thereceipt/escpos-bridge/internal/transport"
)

// Options are the arguments of testConnection, print, printWithImage and
// openDrawer. A zero Port selects the configured default.
type Options struct {
	IP          string `json:"ip"`
	Port        int    `json:"port,omitempty"`
	Data        string `json:"data,omitempty"`
	ImageBase64 string `json:"imageBase64,omitempty"`
	Codepage    string `json:"codepage,omitempty"`
}

// AutodetectOptions select the scanned range. Zero fields select the
// configured defaults.
type AutodetectOptions struct {
	BaseIP     string `json:"baseIp,omitempty"`
	StartRange int    `json:"startRange,omitempty"`
	EndRange   int    `json:"endRange,omitempty"`
	Port       int    `json:"port,omitempty"`
}

func (s *Service) endpoint(o Options) (transport.Endpoint, error) {
	ip := strings.TrimSpace(o.IP)
	if ip == "" {
		return transport.Endpoint{}, rejectf("ip", "IP address is required")
	}

	port := o.Port
	if port == 0 {
		port = s.cfg.DefaultPort
	}
	if port < 1 || port > 65535 {
		return transport.Endpoint{}, rejectf("port", "Port must be between 1 and 65535, got %d", o.Port)
	}

	return transport.Endpoint{Host: ip, Port: port}, nil
}

// text validates the print data and encodes it for the requested codepage
func text(o Options) ([]byte, error) {
	if o.Data == "" {
		return nil, rejectf("data", "Print data is required")
	}

	encoded, err := escpos.EncodeText(o.Data, o.Codepage)
	if err != nil {
		if errors.Is(err, escpos.ErrUnknownCodepage) {
			return nil, rejectf("codepage", "Unknown codepage %q (valid: %s)", o.Codepage, strings.Join(escpos.Codepages(), ", "))
		}
		return nil, rejectf("codepage", "%v", err)
	}
	return encoded, nil
}

func (s *Service) scanRange(o AutodetectOptions) (discovery.ScanRange, error) {
	defaults := s.cfg.Autodetect

	r := discovery.ScanRange{
		BaseNetwork: strings.TrimSuffix(strings.TrimSpace(o.BaseIP), "."),
		Start:       o.StartRange,
		End:         o.EndRange,
		Port:        o.Port,
	}
	if r.BaseNetwork == "" {
		r.BaseNetwork = defaults.BaseIP
	}
	if r.Start == 0 {
		r.Start = defaults.Start
	}
	if r.End == 0 {
		r.End = defaults.End
	}
	if r.Port == 0 {
		r.Port = s.cfg.DefaultPort
	}

	if err := r.Validate(); err != nil {
		return discovery.ScanRange{}, rejectf("range", "%v", err)
	}
	return r, nil
}
