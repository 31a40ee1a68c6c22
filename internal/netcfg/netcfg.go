// Package netcfg holds the static network parameters applied to a host and
// renders them as a netplan document.
package netcfg

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/tpodg/staticnet/internal/strutil"
	"github.com/tpodg/staticnet/internal/task/taskutil"
)

// GatewayStyle selects how the default route is written.
type GatewayStyle string

const (
	// GatewayRoutes writes "routes: [{to: default, via: ...}]".
	GatewayRoutes GatewayStyle = "routes"
	// GatewayLegacy writes the deprecated gateway4/gateway6 keys for old
	// netplan releases.
	GatewayLegacy GatewayStyle = "gateway4"
)

const (
	maxInterfaceNameLen = 15
	generatedHeader     = "# Generated by staticnet. Manual changes will be overwritten.\n"
)

// Params is the raw, user supplied form of Static.
type Params struct {
	Interface    string   `yaml:"interface"`
	Addresses    []string `yaml:"addresses"`
	Gateway      string   `yaml:"gateway"`
	Nameservers  []string `yaml:"nameservers"`
	Search       []string `yaml:"search"`
	GatewayStyle string   `yaml:"gateway_style"`
}

// Static is a validated static address assignment for one interface.
type Static struct {
	Interface    string
	Addresses    []netip.Prefix
	Gateway      netip.Addr
	Nameservers  []netip.Addr
	Search       []string
	GatewayStyle GatewayStyle
}

// Parse converts raw parameters and validates the result. List entries
// may hold several comma separated values.
func Parse(p Params) (Static, error) {
	var errs []error
	s := Static{
		Interface:    strings.TrimSpace(p.Interface),
		GatewayStyle: GatewayStyle(strings.TrimSpace(p.GatewayStyle)),
	}
	if s.GatewayStyle == "" {
		s.GatewayStyle = GatewayRoutes
	}

	for _, raw := range strutil.CleanList(p.Addresses) {
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("address %q must be in CIDR notation: %w", raw, err))
			continue
		}
		s.Addresses = append(s.Addresses, prefix)
	}

	if gw := strings.TrimSpace(p.Gateway); gw != "" {
		addr, err := netip.ParseAddr(gw)
		if err != nil {
			errs = append(errs, fmt.Errorf("gateway %q: %w", gw, err))
		} else {
			s.Gateway = addr
		}
	}

	seen := make(map[netip.Addr]struct{})
	for _, raw := range strutil.CleanList(p.Nameservers) {
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("nameserver %q: %w", raw, err))
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		s.Nameservers = append(s.Nameservers, addr)
	}

	s.Search = strutil.CleanList(p.Search)

	if len(errs) > 0 {
		return Static{}, errors.Join(errs...)
	}
	if err := s.Validate(); err != nil {
		return Static{}, err
	}
	return s, nil
}

// Validate checks the assignment is complete and consistent.
func (s Static) Validate() error {
	var errs []error
	if err := validateInterface(s.Interface); err != nil {
		errs = append(errs, err)
	}

	if len(s.Addresses) == 0 {
		errs = append(errs, errors.New("at least one address is required"))
	}
	families := map[bool]bool{}
	for _, prefix := range s.Addresses {
		if !prefix.IsValid() || prefix.Addr().IsUnspecified() {
			errs = append(errs, fmt.Errorf("invalid address %s", prefix))
			continue
		}
		families[prefix.Addr().Is4()] = true
	}

	if !s.Gateway.IsValid() {
		errs = append(errs, errors.New("gateway is required"))
	} else {
		if !families[s.Gateway.Is4()] {
			errs = append(errs, fmt.Errorf("gateway %s has no address of the same family", s.Gateway))
		}
		for _, prefix := range s.Addresses {
			if prefix.Addr() == s.Gateway {
				errs = append(errs, fmt.Errorf("gateway %s equals a host address", s.Gateway))
			}
		}
	}

	for _, domain := range s.Search {
		if strings.ContainsAny(domain, " \t\n") {
			errs = append(errs, fmt.Errorf("search domain %q contains whitespace", domain))
		}
	}

	switch s.GatewayStyle {
	case GatewayRoutes, GatewayLegacy:
	default:
		errs = append(errs, fmt.Errorf("unknown gateway style %q (routes or gateway4)", s.GatewayStyle))
	}
	return errors.Join(errs...)
}

func validateInterface(name string) error {
	if err := taskutil.ValidateIdentifier("interface", name); err != nil {
		return err
	}
	if len(name) > maxInterfaceNameLen {
		return fmt.Errorf("interface name %q longer than %d characters", name, maxInterfaceNameLen)
	}
	return nil
}

type netplanDocument struct {
	Network netplanNetwork `yaml:"network"`
}

type netplanNetwork struct {
	Version   int                        `yaml:"version"`
	Ethernets map[string]netplanEthernet `yaml:"ethernets"`
}

type netplanEthernet struct {
	DHCP4       bool                `yaml:"dhcp4"`
	DHCP6       bool                `yaml:"dhcp6"`
	Addresses   []string            `yaml:"addresses"`
	Gateway4    string              `yaml:"gateway4,omitempty"`
	Gateway6    string              `yaml:"gateway6,omitempty"`
	Routes      []netplanRoute      `yaml:"routes,omitempty"`
	Nameservers *netplanNameservers `yaml:"nameservers,omitempty"`
}

type netplanRoute struct {
	To  string `yaml:"to"`
	Via string `yaml:"via"`
}

type netplanNameservers struct {
	Addresses []string `yaml:"addresses,omitempty"`
	Search    []string `yaml:"search,omitempty"`
}

// Netplan renders the assignment as a complete netplan document.
func (s Static) Netplan() ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	eth := netplanEthernet{}
	for _, prefix := range s.Addresses {
		eth.Addresses = append(eth.Addresses, prefix.String())
	}

	switch {
	case s.GatewayStyle == GatewayLegacy && s.Gateway.Is4():
		eth.Gateway4 = s.Gateway.String()
	case s.GatewayStyle == GatewayLegacy:
		eth.Gateway6 = s.Gateway.String()
	default:
		eth.Routes = []netplanRoute{{To: "default", Via: s.Gateway.String()}}
	}

	if len(s.Nameservers) > 0 || len(s.Search) > 0 {
		ns := &netplanNameservers{Search: s.Search}
		for _, addr := range s.Nameservers {
			ns.Addresses = append(ns.Addresses, addr.String())
		}
		eth.Nameservers = ns
	}

	doc := netplanDocument{Network: netplanNetwork{
		Version:   2,
		Ethernets: map[string]netplanEthernet{s.Interface: eth},
	}}
	data, err := yaml.MarshalWithOptions(doc, yaml.IndentSequence(true))
	if err != nil {
		return nil, fmt.Errorf("render netplan: %w", err)
	}
	return append([]byte(generatedHeader), data...), nil
}

// SameDocument reports whether a remote netplan file is the rendered
// document, ignoring surrounding whitespace.
func (s Static) SameDocument(remote string) (bool, error) {
	want, err := s.Netplan()
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(remote) == strings.TrimSpace(string(want)), nil
}
