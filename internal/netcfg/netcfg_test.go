package netcfg

import (
	"net/netip"
	"strings"
	"testing"

	"github.com/goccy/go-yaml"
)

func validParams() Params {
	return Params{
		Interface:   "ens33",
		Addresses:   []string{"192.168.1.10/24"},
		Gateway:     "192.168.1.1",
		Nameservers: []string{"1.1.1.1, 9.9.9.9", "'1.1.1.1'"},
		Search:      []string{"example.lan"},
	}
}

func TestParse(t *testing.T) {
	s, err := Parse(validParams())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if s.GatewayStyle != GatewayRoutes {
		t.Errorf("expected default gateway style routes, got %q", s.GatewayStyle)
	}
	wantDNS := []netip.Addr{netip.MustParseAddr("1.1.1.1"), netip.MustParseAddr("9.9.9.9")}
	if len(s.Nameservers) != len(wantDNS) {
		t.Fatalf("expected %v, got %v", wantDNS, s.Nameservers)
	}
	for i := range wantDNS {
		if s.Nameservers[i] != wantDNS[i] {
			t.Errorf("nameserver %d: expected %s, got %s", i, wantDNS[i], s.Nameservers[i])
		}
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
		want   string
	}{
		{"missing interface", func(p *Params) { p.Interface = "" }, "interface name cannot be empty"},
		{"unsafe interface", func(p *Params) { p.Interface = "eth0;reboot" }, "invalid character"},
		{"long interface", func(p *Params) { p.Interface = "enp0s31f6abcdefgh" }, "longer than"},
		{"no cidr", func(p *Params) { p.Addresses = []string{"192.168.1.10"} }, "CIDR"},
		{"no addresses", func(p *Params) { p.Addresses = nil }, "at least one address"},
		{"missing gateway", func(p *Params) { p.Gateway = "" }, "gateway is required"},
		{"family mismatch", func(p *Params) { p.Gateway = "fe80::1" }, "same family"},
		{"gateway is host", func(p *Params) { p.Gateway = "192.168.1.10" }, "equals a host address"},
		{"bad nameserver", func(p *Params) { p.Nameservers = []string{"dns.example"} }, "nameserver"},
		{"bad style", func(p *Params) { p.GatewayStyle = "static" }, "unknown gateway style"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)
			_, err := Parse(p)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

type renderedEthernet struct {
	DHCP4       bool                `yaml:"dhcp4"`
	Addresses   []string            `yaml:"addresses"`
	Gateway4    string              `yaml:"gateway4"`
	Gateway6    string              `yaml:"gateway6"`
	Routes      []map[string]string `yaml:"routes"`
	Nameservers struct {
		Addresses []string `yaml:"addresses"`
		Search    []string `yaml:"search"`
	} `yaml:"nameservers"`
}

func renderEthernet(t *testing.T, s Static) (string, renderedEthernet) {
	t.Helper()
	data, err := s.Netplan()
	if err != nil {
		t.Fatalf("Netplan failed: %v", err)
	}
	var doc struct {
		Network struct {
			Version   int                         `yaml:"version"`
			Ethernets map[string]renderedEthernet `yaml:"ethernets"`
		} `yaml:"network"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("rendered netplan is not valid yaml: %v\n%s", err, data)
	}
	if doc.Network.Version != 2 {
		t.Fatalf("expected version 2, got %d", doc.Network.Version)
	}
	eth, ok := doc.Network.Ethernets[s.Interface]
	if !ok {
		t.Fatalf("interface %q missing from\n%s", s.Interface, data)
	}
	return string(data), eth
}

func TestNetplan_Routes(t *testing.T) {
	s, err := Parse(validParams())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	raw, eth := renderEthernet(t, s)

	if !strings.HasPrefix(raw, "# Generated by staticnet") {
		t.Errorf("expected generated header, got %q", raw)
	}
	if eth.DHCP4 {
		t.Error("dhcp4 must be disabled")
	}
	if len(eth.Addresses) != 1 || eth.Addresses[0] != "192.168.1.10/24" {
		t.Errorf("unexpected addresses %v", eth.Addresses)
	}
	if eth.Gateway4 != "" {
		t.Errorf("gateway4 must not be set in routes style, got %q", eth.Gateway4)
	}
	if len(eth.Routes) != 1 || eth.Routes[0]["to"] != "default" || eth.Routes[0]["via"] != "192.168.1.1" {
		t.Errorf("unexpected routes %v", eth.Routes)
	}
	if strings.Join(eth.Nameservers.Addresses, ",") != "1.1.1.1,9.9.9.9" {
		t.Errorf("unexpected nameservers %v", eth.Nameservers.Addresses)
	}
	if strings.Join(eth.Nameservers.Search, ",") != "example.lan" {
		t.Errorf("unexpected search %v", eth.Nameservers.Search)
	}
}

func TestNetplan_LegacyGateway(t *testing.T) {
	p := validParams()
	p.GatewayStyle = "gateway4"
	p.Nameservers = nil
	p.Search = nil
	s, err := Parse(p)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	raw, eth := renderEthernet(t, s)

	if eth.Gateway4 != "192.168.1.1" {
		t.Errorf("expected gateway4, got %q", eth.Gateway4)
	}
	if len(eth.Routes) != 0 {
		t.Errorf("routes must not be set in gateway4 style, got %v", eth.Routes)
	}
	if strings.Contains(raw, "nameservers") {
		t.Errorf("empty nameservers must be omitted:\n%s", raw)
	}
}

func TestNetplan_IPv6LegacyGateway(t *testing.T) {
	s, err := Parse(Params{
		Interface:    "eth0",
		Addresses:    []string{"2001:db8::10/64"},
		Gateway:      "2001:db8::1",
		GatewayStyle: "gateway4",
	})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	_, eth := renderEthernet(t, s)
	if eth.Gateway6 != "2001:db8::1" || eth.Gateway4 != "" {
		t.Errorf("expected gateway6 only, got gateway4=%q gateway6=%q", eth.Gateway4, eth.Gateway6)
	}
}

func TestNetplan_Deterministic(t *testing.T) {
	s, err := Parse(validParams())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	first, err := s.Netplan()
	if err != nil {
		t.Fatalf("Netplan failed: %v", err)
	}

	same, err := s.SameDocument("\n" + string(first) + "\n\n")
	if err != nil {
		t.Fatalf("SameDocument failed: %v", err)
	}
	if !same {
		t.Error("expected rendered document to match itself")
	}

	same, err = s.SameDocument(strings.Replace(string(first), "192.168.1.1", "192.168.1.254", 1))
	if err != nil {
		t.Fatalf("SameDocument failed: %v", err)
	}
	if same {
		t.Error("expected changed gateway to differ")
	}
}
