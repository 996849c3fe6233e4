package spf

import (
	"net"
	"sort"
	"strings"
)

// AggregateCIDRs merges a list of IP literals (bare addresses or CIDR
// notation, IPv4 or IPv6) by dropping duplicates and any entry already
// covered by another network in the list, then merging pairs of adjacent
// IPv4 networks of equal size. The result keeps the input family mix but
// is sorted.
func AggregateCIDRs(literals []string) []string {
	nets := make([]*net.IPNet, 0, len(literals))
	var passthrough []string
	for _, literal := range literals {
		n := parseLiteral(literal)
		if n == nil {
			passthrough = append(passthrough, literal)
			continue
		}
		nets = append(nets, n)
	}

	nets = dropCovered(nets)
	nets = mergeAdjacent(nets)

	out := make([]string, 0, len(nets)+len(passthrough))
	for _, n := range nets {
		out = append(out, formatLiteral(n))
	}
	out = append(out, passthrough...)
	sort.Strings(out)
	return out
}

func parseLiteral(literal string) *net.IPNet {
	if strings.Contains(literal, "/") {
		_, n, err := net.ParseCIDR(literal)
		if err != nil {
			return nil
		}
		return n
	}
	ip := net.ParseIP(literal)
	if ip == nil {
		return nil
	}
	if v4 := ip.To4(); v4 != nil {
		return &net.IPNet{IP: v4, Mask: net.CIDRMask(32, 32)}
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}
}

// formatLiteral renders host-sized networks as bare addresses, everything
// else in CIDR notation, matching the way SPF records are written.
func formatLiteral(n *net.IPNet) string {
	ones, bits := n.Mask.Size()
	if ones == bits {
		return n.IP.String()
	}
	return n.String()
}

// dropCovered removes networks fully contained in another entry.
func dropCovered(nets []*net.IPNet) []*net.IPNet {
	sort.Slice(nets, func(i, j int) bool {
		oi, _ := nets[i].Mask.Size()
		oj, _ := nets[j].Mask.Size()
		if oi != oj {
			return oi < oj // widest first
		}
		return nets[i].IP.String() < nets[j].IP.String()
	})

	var kept []*net.IPNet
	for _, candidate := range nets {
		covered := false
		for _, outer := range kept {
			if sameFamily(outer, candidate) && outer.Contains(candidate.IP) && narrower(candidate, outer) {
				covered = true
				break
			}
		}
		if !covered {
			kept = append(kept, candidate)
		}
	}
	return kept
}

// mergeAdjacent repeatedly merges sibling IPv4 networks (equal prefix
// length, aligned, contiguous) into their parent.
func mergeAdjacent(nets []*net.IPNet) []*net.IPNet {
	for {
		merged := false
		for i := 0; i < len(nets) && !merged; i++ {
			for j := i + 1; j < len(nets); j++ {
				parent := mergePair(nets[i], nets[j])
				if parent == nil {
					continue
				}
				nets[i] = parent
				nets = append(nets[:j], nets[j+1:]...)
				merged = true
				break
			}
		}
		if !merged {
			return nets
		}
	}
}

func mergePair(a, b *net.IPNet) *net.IPNet {
	a4, b4 := a.IP.To4(), b.IP.To4()
	if a4 == nil || b4 == nil {
		return nil
	}
	onesA, _ := a.Mask.Size()
	onesB, _ := b.Mask.Size()
	if onesA != onesB || onesA == 0 {
		return nil
	}

	ua := ipv4ToUint32(a4)
	ub := ipv4ToUint32(b4)
	size := uint32(1) << (32 - onesA)
	lo, hi := ua, ub
	if lo > hi {
		lo, hi = hi, lo
	}
	if hi != lo+size || lo%(2*size) != 0 {
		return nil
	}
	return &net.IPNet{IP: uint32ToIPv4(lo), Mask: net.CIDRMask(onesA-1, 32)}
}

func sameFamily(a, b *net.IPNet) bool {
	return (a.IP.To4() == nil) == (b.IP.To4() == nil)
}

func narrower(inner, outer *net.IPNet) bool {
	oi, _ := inner.Mask.Size()
	oo, _ := outer.Mask.Size()
	return oi >= oo
}

func ipv4ToUint32(ip net.IP) uint32 {
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}

func uint32ToIPv4(v uint32) net.IP {
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v)).To4()
}
