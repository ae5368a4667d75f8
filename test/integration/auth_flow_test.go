// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlatAuth Contributors

//go:build integration

package integration

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/flatauth/flatauth/internal/auth"
	"github.com/flatauth/flatauth/internal/auth/filestore"
	"github.com/flatauth/flatauth/internal/store"
)

// recordingMailer captures reset mail instead of delivering it.
type recordingMailer struct {
	recipient string
	body      string
}

func (m *recordingMailer) Send(recipient, _, body string) error {
	m.recipient = recipient
	m.body = body
	return nil
}

// testEnv wires the full service stack over a real record store.
type testEnv struct {
	dataDir    string
	store      *store.Store
	users      *filestore.UserRepository
	sessions   *filestore.SessionRepository
	sessionSvc *auth.SessionService
	resetSvc   *auth.ResetService
	svc        *auth.Service
	sweeper    *filestore.Sweeper
	mailer     *recordingMailer
}

func newTestEnv(dataDir string) *testEnv {
	st, err := store.New(dataDir)
	Expect(err).NotTo(HaveOccurred())

	opts := filestore.Options{RetryAttempts: 3, RetryDelay: 5 * time.Millisecond}
	users := filestore.NewUserRepository(st, opts)
	sessions := filestore.NewSessionRepository(st)

	sessionSvc, err := auth.NewSessionService(users, sessions)
	Expect(err).NotTo(HaveOccurred())
	resetSvc, err := auth.NewResetService(users)
	Expect(err).NotTo(HaveOccurred())

	mailer := &recordingMailer{}
	svc, err := auth.NewService(users, sessionSvc, resetSvc, auth.NewArgon2idHasher(), mailer)
	Expect(err).NotTo(HaveOccurred())

	sweeper, err := filestore.NewSweeper(users, sessions, nil)
	Expect(err).NotTo(HaveOccurred())

	return &testEnv{
		dataDir:    dataDir,
		store:      st,
		users:      users,
		sessions:   sessions,
		sessionSvc: sessionSvc,
		resetSvc:   resetSvc,
		svc:        svc,
		sweeper:    sweeper,
		mailer:     mailer,
	}
}

var _ = Describe("Account lifecycle", func() {
	var (
		env *testEnv
		ctx context.Context
	)

	BeforeEach(func() {
		env = newTestEnv(GinkgoT().TempDir())
		ctx = context.Background()
	})

	It("registers, logs in, and logs out", func() {
		user, err := env.svc.Register(ctx, "alice", "correct horse battery")
		Expect(err).NotTo(HaveOccurred())
		Expect(user.Username).To(Equal("alice"))

		sessionID, err := env.svc.Login(ctx, "alice", "correct horse battery")
		Expect(err).NotTo(HaveOccurred())

		live, err := env.svc.Sessions().Verify(ctx, sessionID)
		Expect(err).NotTo(HaveOccurred())
		Expect(live).To(BeTrue())

		Expect(env.svc.Logout(ctx, sessionID)).To(Succeed())

		live, err = env.svc.Sessions().Verify(ctx, sessionID)
		Expect(err).NotTo(HaveOccurred())
		Expect(live).To(BeFalse())
	})

	It("rejects duplicate registration", func() {
		_, err := env.svc.Register(ctx, "alice", "correct horse battery")
		Expect(err).NotTo(HaveOccurred())

		_, err = env.svc.Register(ctx, "alice", "a different password")
		Expect(err).To(MatchError(auth.ErrConflict))
	})

	It("renames the account and keeps credentials working", func() {
		user, err := env.svc.Register(ctx, "alice", "correct horse battery")
		Expect(err).NotTo(HaveOccurred())

		Expect(env.svc.ModifyUsername(ctx, user.ID, "alicia")).To(Succeed())

		_, err = env.svc.Login(ctx, "alice", "correct horse battery")
		Expect(err).To(HaveOccurred())

		_, err = env.svc.Login(ctx, "alicia", "correct horse battery")
		Expect(err).NotTo(HaveOccurred())
	})

	It("survives a process restart", func() {
		user, err := env.svc.Register(ctx, "alice", "correct horse battery")
		Expect(err).NotTo(HaveOccurred())
		Expect(env.svc.ModifyEmail(ctx, user.ID, "alice@example.com")).To(Succeed())

		// A fresh stack over the same directory sees the same accounts.
		reopened := newTestEnv(env.dataDir)

		_, err = reopened.svc.Login(ctx, "alice", "correct horse battery")
		Expect(err).NotTo(HaveOccurred())

		found, err := reopened.users.GetByEmail(ctx, "alice@example.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(found.ID).To(Equal(user.ID))
	})

	It("deletes the account and releases its names", func() {
		user, err := env.svc.Register(ctx, "alice", "correct horse battery")
		Expect(err).NotTo(HaveOccurred())

		Expect(env.svc.DeleteAccount(ctx, user.ID)).To(Succeed())

		// The username is free again.
		_, err = env.svc.Register(ctx, "alice", "another password here")
		Expect(err).NotTo(HaveOccurred())
	})
})

var _ = Describe("Session expiry", func() {
	var (
		env *testEnv
		ctx context.Context
	)

	BeforeEach(func() {
		env = newTestEnv(GinkgoT().TempDir())
		ctx = context.Background()
	})

	It("invalidates sessions after the window and reissues on fetch", func() {
		user, err := env.svc.Register(ctx, "alice", "correct horse battery")
		Expect(err).NotTo(HaveOccurred())

		env.sessionSvc.SetTTL(20 * time.Millisecond)

		first, err := env.sessionSvc.Fetch(ctx, user.ID)
		Expect(err).NotTo(HaveOccurred())

		// Inside the window the same ID comes back.
		again, err := env.sessionSvc.Fetch(ctx, user.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(again).To(Equal(first))

		time.Sleep(40 * time.Millisecond)

		live, err := env.sessionSvc.Verify(ctx, first)
		Expect(err).NotTo(HaveOccurred())
		Expect(live).To(BeFalse())

		reissued, err := env.sessionSvc.Fetch(ctx, user.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(reissued).NotTo(Equal(first))
	})
})

var _ = Describe("Password reset", func() {
	var (
		env *testEnv
		ctx context.Context
	)

	BeforeEach(func() {
		env = newTestEnv(GinkgoT().TempDir())
		ctx = context.Background()
	})

	registerWithEmail := func() *auth.User {
		user, err := env.svc.Register(ctx, "alice", "old password here")
		Expect(err).NotTo(HaveOccurred())
		Expect(env.svc.ModifyEmail(ctx, user.ID, "alice@example.com")).To(Succeed())
		return user
	}

	It("rotates the password and revokes the session", func() {
		registerWithEmail()

		sessionID, err := env.svc.Login(ctx, "alice", "old password here")
		Expect(err).NotTo(HaveOccurred())

		token, err := env.svc.RequestReset(ctx, "alice@example.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(env.mailer.recipient).To(Equal("alice@example.com"))
		Expect(env.mailer.body).To(ContainSubstring(token))

		Expect(env.svc.ResetPassword(ctx, token, "new password here")).To(Succeed())

		_, err = env.svc.Login(ctx, "alice", "old password here")
		Expect(err).To(HaveOccurred())
		_, err = env.svc.Login(ctx, "alice", "new password here")
		Expect(err).NotTo(HaveOccurred())

		live, err := env.svc.Sessions().Verify(ctx, sessionID)
		Expect(err).NotTo(HaveOccurred())
		Expect(live).To(BeFalse())
	})

	It("treats tokens as single-use", func() {
		registerWithEmail()

		token, err := env.svc.RequestReset(ctx, "alice@example.com")
		Expect(err).NotTo(HaveOccurred())

		Expect(env.svc.ResetPassword(ctx, token, "new password here")).To(Succeed())

		err = env.svc.ResetPassword(ctx, token, "sneaky second reset")
		Expect(err).To(MatchError(auth.ErrNotFound))
	})

	It("spends expired tokens without changing the password", func() {
		registerWithEmail()

		env.resetSvc.SetTTL(20 * time.Millisecond)

		token, err := env.svc.RequestReset(ctx, "alice@example.com")
		Expect(err).NotTo(HaveOccurred())

		time.Sleep(40 * time.Millisecond)

		err = env.svc.ResetPassword(ctx, token, "new password here")
		Expect(err).To(MatchError(auth.ErrExpired))

		_, err = env.svc.Login(ctx, "alice", "old password here")
		Expect(err).NotTo(HaveOccurred())

		// Spent, not reusable: the second attempt is unknown, not expired.
		err = env.svc.ResetPassword(ctx, token, "new password here")
		Expect(err).To(MatchError(auth.ErrNotFound))
	})

	It("does not reveal whether an email exists", func() {
		token, err := env.svc.RequestReset(ctx, "nobody@example.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(token).To(BeEmpty())
	})

	It("invalidates an earlier token when a new one is requested", func() {
		registerWithEmail()

		first, err := env.svc.RequestReset(ctx, "alice@example.com")
		Expect(err).NotTo(HaveOccurred())
		second, err := env.svc.RequestReset(ctx, "alice@example.com")
		Expect(err).NotTo(HaveOccurred())

		err = env.svc.ResetPassword(ctx, first, "new password here")
		Expect(err).To(MatchError(auth.ErrNotFound))

		Expect(env.svc.ResetPassword(ctx, second, "new password here")).To(Succeed())
	})
})

var _ = Describe("Reconciliation sweep", func() {
	var (
		env *testEnv
		ctx context.Context
	)

	BeforeEach(func() {
		env = newTestEnv(GinkgoT().TempDir())
		ctx = context.Background()
	})

	It("restores an index entry lost to contention", func() {
		user, err := env.svc.Register(ctx, "alice", "correct horse battery")
		Expect(err).NotTo(HaveOccurred())

		// Simulate a lost entry.
		Expect(store.NewIndex(env.store, "usernames.json").Delete("alice")).To(Succeed())
		_, err = env.users.GetByUsername(ctx, "alice")
		Expect(err).To(MatchError(auth.ErrNotFound))

		report, err := env.sweeper.Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.EntriesAdded).To(Equal(1))

		restored, err := env.users.GetByUsername(ctx, "alice")
		Expect(err).NotTo(HaveOccurred())
		Expect(restored.ID).To(Equal(user.ID))
	})
})
