// Package netscan implements the staged network scan primitives used by
// the discovery engine: CIDR expansion, liveness sweep, TCP port scan,
// and the authenticated SSH fact probe.
package netscan

import (
	"encoding/binary"
	"net"
	"regexp"

	"github.com/netwatch-nms/netwatch/pkg/util"
)

// cidrPattern matches dotted-quad IPv4 with a /0../32 prefix.
var cidrPattern = regexp.MustCompile(
	`^((25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)/([0-9]|[1-2][0-9]|3[0-2])$`)

// ValidCIDR reports whether s is a well-formed IPv4 CIDR string.
func ValidCIDR(s string) bool {
	return cidrPattern.MatchString(s)
}

// PrefixLen returns the prefix length of a CIDR string.
func PrefixLen(cidr string) (int, error) {
	if !ValidCIDR(cidr) {
		return 0, util.InvalidArgumentf("invalid CIDR format: %s", cidr)
	}
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return 0, util.InvalidArgumentf("invalid CIDR format: %s", cidr)
	}
	ones, _ := ipnet.Mask.Size()
	return ones, nil
}

// ExpandCIDR enumerates the usable host addresses of an IPv4 CIDR range
// in ascending order. For prefixes up to /30 the network and broadcast
// addresses are excluded; /31 and /32 include every address.
func ExpandCIDR(cidr string) ([]string, error) {
	if !ValidCIDR(cidr) {
		return nil, util.InvalidArgumentf("invalid CIDR format: %s", cidr)
	}

	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, util.InvalidArgumentf("invalid CIDR format: %s", cidr)
	}
	prefix, _ := ipnet.Mask.Size()

	network := binary.BigEndian.Uint32(ip.To4().Mask(ipnet.Mask))
	hostBits := uint(32 - prefix)
	numHosts := uint64(1) << hostBits

	var first, last uint64
	if prefix <= 30 {
		first, last = 1, numHosts-2
	} else {
		first, last = 0, numHosts-1
	}

	out := make([]string, 0, last-first+1)
	for i := first; i <= last; i++ {
		addr := make(net.IP, 4)
		binary.BigEndian.PutUint32(addr, network|uint32(i))
		out = append(out, addr.String())
	}
	return out, nil
}
