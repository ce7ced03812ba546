// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package integration

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/signon/internal/auth"
	authpg "github.com/holomush/signon/internal/auth/postgres"
	"github.com/holomush/signon/internal/signon"
	"github.com/holomush/signon/internal/store"
	"github.com/holomush/signon/internal/telnet"
)

// formReady is the last line drawn for the sign-on form.
var formReady = "[" + signon.SubmitLabel + "]"

// client is one telnet connection.
type client struct {
	conn   net.Conn
	reader *bufio.Reader
}

func dial(addr string) *client {
	conn, err := net.Dial("tcp", addr)
	Expect(err).NotTo(HaveOccurred())
	Expect(conn.SetDeadline(time.Now().Add(10 * time.Second))).To(Succeed())
	return &client{conn: conn, reader: bufio.NewReader(conn)}
}

func (c *client) send(line string) {
	_, err := c.conn.Write([]byte(line + "\r\n"))
	Expect(err).NotTo(HaveOccurred())
}

// readUntil returns every line up to and including the first containing
// want.
func (c *client) readUntil(want string) []string {
	var lines []string
	for {
		line, err := c.reader.ReadString('\n')
		Expect(err).NotTo(HaveOccurred(), "waiting for %q after %v", want, lines)
		line = strings.TrimRight(line, "\r\n")
		lines = append(lines, line)
		if strings.Contains(line, want) {
			return lines
		}
	}
}

func (c *client) close() {
	_ = c.conn.Close()
}

var _ = Describe("Telnet sign-on against PostgreSQL", Ordered, func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		container *postgres.PostgresContainer
		pool      *pgxpool.Pool
		srv       *telnet.Server
		runErr    chan error
	)

	sessionsFor := func(userID string) int {
		var n int
		Expect(pool.QueryRow(ctx, "SELECT count(*) FROM sessions WHERE user_id = $1", userID).Scan(&n)).To(Succeed())
		return n
	}

	BeforeAll(func() {
		ctx, cancel = context.WithCancel(context.Background())
		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("signon"),
			postgres.WithUsername("signon"),
			postgres.WithPassword("signon"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2)),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err := container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		migrator, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Close()).To(Succeed())

		pool, err = store.Connect(ctx, connStr, store.ConnectOptions{Attempts: 3, Backoff: 100 * time.Millisecond})
		Expect(err).NotTo(HaveOccurred())

		logger := slog.New(slog.DiscardHandler)
		svc, err := auth.NewAuthServiceWithLogger(
			authpg.NewUserRepository(pool),
			authpg.NewSessionRepository(pool),
			auth.NewArgon2idHasher(),
			logger,
		)
		Expect(err).NotTo(HaveOccurred())

		_, err = svc.CreateUser(ctx, "ADMIN001", "Administrator", auth.RoleAdmin, "PASSWORD")
		Expect(err).NotTo(HaveOccurred())
		_, err = svc.CreateUser(ctx, "USER0001", "Regular User", auth.RoleUser, "PASSWORD")
		Expect(err).NotTo(HaveOccurred())

		srv, err = telnet.NewServer("127.0.0.1:0", svc, telnet.Config{
			Routes: signon.DefaultRoutes(),
			Logger: logger,
		})
		Expect(err).NotTo(HaveOccurred())

		runErr = make(chan error, 1)
		go func() {
			runErr <- srv.Run(ctx)
		}()
		Eventually(srv.Addr).ShouldNot(BeEmpty())
	})

	AfterAll(func() {
		if cancel != nil {
			cancel()
		}
		if runErr != nil {
			Eventually(runErr, 5*time.Second).Should(Receive(BeNil()))
		}
		if pool != nil {
			pool.Close()
		}
		if container != nil {
			_ = container.Terminate(context.Background())
		}
	})

	It("routes an administrator to the admin menu", func() {
		c := dial(srv.Addr())
		defer c.close()

		c.readUntil(formReady)
		c.send("connect admin001 PASSWORD")
		lines := c.readUntil("Signed on as")
		Expect(strings.Join(lines, "\n")).To(ContainSubstring("Admin Menu"))
		Expect(lines[len(lines)-1]).To(ContainSubstring("[ADMIN001] (admin)"))
	})

	It("routes a regular user to the main menu", func() {
		c := dial(srv.Addr())
		defer c.close()

		c.readUntil(formReady)
		c.send("connect USER0001 PASSWORD")
		lines := c.readUntil("Signed on as")
		Expect(strings.Join(lines, "\n")).To(ContainSubstring("Main Menu"))
	})

	It("rejects a wrong password and accepts a retry", func() {
		c := dial(srv.Addr())
		defer c.close()

		c.readUntil(formReady)
		c.send("connect USER0001 WRONG")
		c.readUntil("Invalid credentials")

		c.send("connect USER0001 PASSWORD")
		c.readUntil("Signed on as")
	})

	It("ends the backend session on logout", func() {
		Eventually(func() int { return sessionsFor("ADMIN001") }, 5*time.Second).Should(BeZero())

		c := dial(srv.Addr())
		defer c.close()

		c.readUntil(formReady)
		c.send("connect ADMIN001 PASSWORD")
		c.readUntil("Signed on as")
		Expect(sessionsFor("ADMIN001")).To(Equal(1))

		c.send("logout")
		c.readUntil("You have been signed out.")
		Eventually(func() int { return sessionsFor("ADMIN001") }, 5*time.Second).Should(BeZero())
	})

	It("signs out a connection whose session expired", func() {
		c := dial(srv.Addr())
		defer c.close()

		c.readUntil(formReady)
		c.send("connect USER0001 PASSWORD")
		c.readUntil("Signed on as")

		_, err := pool.Exec(ctx, "UPDATE sessions SET expires_at = now() - interval '1 minute' WHERE user_id = $1", "USER0001")
		Expect(err).NotTo(HaveOccurred())

		c.send("goto /reports")
		c.readUntil(telnet.SessionExpiredMessage)
		c.readUntil(formReady)
		Eventually(func() int { return sessionsFor("USER0001") }, 5*time.Second).Should(BeZero())
	})
})
