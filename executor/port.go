package executor

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

const (
	DefaultPort = 9999
	maxPort     = 65535
)

var ErrNoAvailablePort = errors.New("no available port")

// listenAvailable 从port开始向上查找可用端口，找不到再向下查找
func listenAvailable(host string, port int) (net.Listener, int, error) {
	if port <= 0 || port > maxPort {
		port = DefaultPort
	}
	for p := port; p <= maxPort; p++ {
		if ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(p))); err == nil {
			return ln, p, nil
		}
	}
	for p := port - 1; p > 0; p-- {
		if ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(p))); err == nil {
			return ln, p, nil
		}
	}
	return nil, 0, fmt.Errorf("%w from %d", ErrNoAvailablePort, port)
}

// localIP 第一个非回环的IPv4地址，没有时使用127.0.0.1
func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "127.0.0.1"
}
