package main

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func Test_Supervisor(t *testing.T) {
	Convey("Supervisor", t, func() {
		routes := []*RouteSpec{
			{Endpoint: "api/users", Rate: 50, FailPercent: 10},
			{Endpoint: "api/orders", Rate: 40, FailPercent: 0},
			{Endpoint: "checkout", Rate: 30, FailPercent: 100},
		}
		buf := &lockedBuffer{}
		output := NewWriterOutput(buf)

		supervisor := NewSupervisor(routes, output, "127.0.0.1:0", time.Second)

		Convey("prepares state for every route without starting anything", func() {
			So(len(supervisor.States), ShouldEqual, 3)
			So(supervisor.States[2].Route, ShouldEqual, routes[2])
			So(supervisor.Health.ActiveRoutes(), ShouldEqual, 0)
		})

		Convey("once started", func() {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)

			capture := LogCapture(func() {
				So(supervisor.Start(), ShouldBeNil)
			})
			go func() { done <- supervisor.Run(ctx) }()

			Reset(func() {
				cancel()
				<-done
			})

			Convey("runs one scheduler per route", func() {
				So(supervisor.Health.ActiveRoutes(), ShouldEqual, 3)
				So(capture, ShouldContainSubstring, "Starting log generation for /checkout at 30 logs/sec with 100% failures")
			})

			Convey("reports every route on /health", func() {
				health, err := NewHealthProbe(supervisor.HealthAddr(), time.Second).Check()

				So(err, ShouldBeNil)
				So(health.Status, ShouldEqual, "healthy")
				So(health.Routes, ShouldEqual, 3)
			})

			Convey("interleaves whole lines from all routes", func() {
				time.Sleep(2 * time.Second)

				lines := buf.Lines()
				// 120 lines/sec combined
				So(len(lines), ShouldBeGreaterThan, 200)

				seen := map[string]bool{}
				for _, line := range lines {
					So(accessLogLine.MatchString(line), ShouldBeTrue)
					for _, route := range routes {
						if containsPath(line, route.Path()) {
							seen[route.Endpoint] = true
						}
					}
				}
				So(len(seen), ShouldEqual, 3)
			})

			Convey("stops emitting and exits promptly when cancelled", func() {
				time.Sleep(200 * time.Millisecond)

				started := time.Now()
				cancel()

				var err error
				select {
				case err = <-done:
				case <-time.After(2 * time.Second):
					So("supervisor should have exited", ShouldBeEmpty)
				}
				done <- err // Let Reset drain it

				So(err, ShouldBeNil)
				So(time.Since(started), ShouldBeLessThan, 2*time.Second)
				So(supervisor.Health.ActiveRoutes(), ShouldEqual, 0)

				emitted := len(buf.Lines())
				time.Sleep(200 * time.Millisecond)
				So(len(buf.Lines()), ShouldEqual, emitted)

				_, err = net.Dial("tcp", supervisor.HealthAddr())
				So(err, ShouldNotBeNil)
			})
		})

		Convey("keeps running when one route fails validation", func() {
			routes[1].FailPercent = 150 // Slipped past config validation somehow

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			_ = LogCapture(func() {
				So(supervisor.Start(), ShouldBeNil)
				So(waitFor(time.Second, func() bool {
					return supervisor.Health.ActiveRoutes() == 2
				}), ShouldBeTrue)

				cancel()
				So(supervisor.Run(ctx), ShouldBeNil)
			})

			So(supervisor.States[0].Emitted(), ShouldBeGreaterThan, 0)
			So(supervisor.States[1].Emitted(), ShouldEqual, 0)
		})

		Convey("shuts down with an error when the output breaks", func() {
			broken := &mockLogOutput{ShouldError: true}
			supervisor := NewSupervisor(routes, broken, "127.0.0.1:0", time.Second)

			var err error
			_ = LogCapture(func() {
				So(supervisor.Start(), ShouldBeNil)
				err = supervisor.Run(context.Background())
			})

			var resErr *ResourceError
			So(errors.As(err, &resErr), ShouldBeTrue)
			So(broken.StopWasCalled, ShouldBeTrue)
			So(supervisor.Health.ActiveRoutes(), ShouldEqual, 0)
		})

		Convey("refuses to start when the health port is taken", func() {
			taken, err := net.Listen("tcp", "127.0.0.1:0")
			So(err, ShouldBeNil)
			defer taken.Close()

			supervisor := NewSupervisor(routes, output, taken.Addr().String(), time.Second)
			err = supervisor.Start()

			var resErr *ResourceError
			So(errors.As(err, &resErr), ShouldBeTrue)

			time.Sleep(100 * time.Millisecond)
			So(buf.String(), ShouldBeEmpty)
			So(supervisor.Health.ActiveRoutes(), ShouldEqual, 0)
		})
	})
}

func containsPath(line, path string) bool {
	return strings.Contains(line, `"GET `+path+` HTTP/1.1"`)
}
