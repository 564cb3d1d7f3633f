package netscan

import (
	"errors"
	"net"
	"strconv"
	"syscall"
)

func itoa(n int) string { return strconv.Itoa(n) }

func asOpError(err error, target **net.OpError) bool {
	return errors.As(err, target)
}

func isConnRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}
