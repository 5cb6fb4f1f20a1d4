package ssdp

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/net/ipv4"
)

// listenMulticast binds the SSDP port and joins the group on the named
// interface. An empty name lets the kernel pick.
func listenMulticast(ctx context.Context, ifaceName string) (PacketConn, error) {
	var ifi *net.Interface
	if ifaceName != "" {
		var err error
		if ifi, err = net.InterfaceByName(ifaceName); err != nil {
			return nil, fmt.Errorf("ssdp: interface %s: %w", ifaceName, err)
		}
	}

	lc := net.ListenConfig{Control: reuseAddr}
	c, err := lc.ListenPacket(ctx, "udp4", "0.0.0.0:1900")
	if err != nil {
		return nil, fmt.Errorf("ssdp: listen: %w", err)
	}

	group := &net.UDPAddr{IP: net.IPv4(239, 255, 255, 250)}
	p := ipv4.NewPacketConn(c)
	if err := p.JoinGroup(ifi, group); err != nil {
		c.Close()
		return nil, fmt.Errorf("ssdp: join group: %w", err)
	}
	if ifi != nil {
		if err := p.SetMulticastInterface(ifi); err != nil {
			c.Close()
			return nil, fmt.Errorf("ssdp: multicast interface: %w", err)
		}
	}
	_ = p.SetMulticastTTL(2)
	_ = p.SetMulticastLoopback(true)

	return c, nil
}

// reuseAddr lets the renderer share port 1900 with other SSDP stacks on the
// host.
func reuseAddr(network, address string, rc syscall.RawConn) error {
	var serr error
	err := rc.Control(func(fd uintptr) {
		serr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return serr
}

// InterfaceIPv4 returns the first IPv4 address of the named interface.
func InterfaceIPv4(name string) (net.IP, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return nil, err
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok {
			if ip4 := ipn.IP.To4(); ip4 != nil {
				return ip4, nil
			}
		}
	}
	return nil, fmt.Errorf("interface %s has no IPv4 address", name)
}
