package station

import "net"

// LANIP reports the local address used to reach the wider network.
// Dialing UDP performs no handshake, it only asks the kernel to pick
// a source address. Falls back to loopback when no route exists.
func LANIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}
	return addr.IP.String()
}
