package amqp

import "github.com/packetd/amqpcore/internal/xlog"

func testLogger() xlog.Logger {
	return xlog.New(xlog.Options{Stdout: true, Level: "error"})
}
