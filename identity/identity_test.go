package identity_test

import (
	"testing"

	"gopkg.in/check.v1"

	"github.com/triphopMahithi/DropTea/identity"
)

func Test(t *testing.T) { check.TestingT(t) }

type identitySuite struct{}

var _ = check.Suite(&identitySuite{})

type fakeArbiter struct {
	decision identity.Decision
	calls    int
}

func (f *fakeArbiter) VerifyCertificate(peerID string, fp identity.Fingerprint, filename string) (identity.Decision, error) {
	f.calls++
	return f.decision, nil
}

func (s *identitySuite) TestLoadOrGenerateIdentityPersists(c *check.C) {
	dir := c.MkDir()
	store, err := identity.NewStore(dir, nil, nil)
	c.Assert(err, check.IsNil)

	cert1, err := store.LoadOrGenerateIdentity("node-a")
	c.Assert(err, check.IsNil)
	c.Assert(len(cert1.Certificate), check.Equals, 1)

	// a fresh store over the same directory must load the same cert back.
	store2, err := identity.NewStore(dir, nil, nil)
	c.Assert(err, check.IsNil)
	cert2, err := store2.LoadOrGenerateIdentity("node-a")
	c.Assert(err, check.IsNil)

	c.Assert(cert2.Certificate[0], check.DeepEquals, cert1.Certificate[0])
}

func (s *identitySuite) TestSaveKnownHostRoundTrips(c *check.C) {
	dir := c.MkDir()
	store, err := identity.NewStore(dir, nil, nil)
	c.Assert(err, check.IsNil)

	fp := identity.CalculateFingerprint([]byte("certificate bytes"))
	c.Assert(store.SaveKnownHost("peer-1", fp), check.IsNil)

	got, ok := store.KnownFingerprint("peer-1")
	c.Assert(ok, check.Equals, true)
	c.Assert(got, check.Equals, fp)

	// reloading from disk should observe the same pinned fingerprint.
	store2, err := identity.NewStore(dir, nil, nil)
	c.Assert(err, check.IsNil)
	got2, ok := store2.KnownFingerprint("peer-1")
	c.Assert(ok, check.Equals, true)
	c.Assert(got2, check.Equals, fp)
}

func (s *identitySuite) TestVerifyServerCertFirstContactNoArbiter(c *check.C) {
	dir := c.MkDir()
	store, err := identity.NewStore(dir, nil, nil)
	c.Assert(err, check.IsNil)

	err = store.VerifyServerCert("peer-1", []byte("cert-der"))
	c.Assert(err, check.IsNil)

	_, ok := store.KnownFingerprint("peer-1")
	c.Assert(ok, check.Equals, true)
}

func (s *identitySuite) TestVerifyServerCertFirstContactArbiterReject(c *check.C) {
	dir := c.MkDir()
	arbiter := &fakeArbiter{decision: identity.Reject}
	store, err := identity.NewStore(dir, arbiter, nil)
	c.Assert(err, check.IsNil)

	err = store.VerifyServerCert("peer-1", []byte("cert-der"))
	c.Assert(err, check.NotNil)
	c.Assert(arbiter.calls, check.Equals, 1)

	_, ok := store.KnownFingerprint("peer-1")
	c.Assert(ok, check.Equals, false)
}

func (s *identitySuite) TestVerifyServerCertMatchAccepts(c *check.C) {
	dir := c.MkDir()
	store, err := identity.NewStore(dir, nil, nil)
	c.Assert(err, check.IsNil)

	c.Assert(store.VerifyServerCert("peer-1", []byte("cert-der")), check.IsNil)
	// second verification with the same bytes must not consult an arbiter
	// (there is none) and must still succeed.
	c.Assert(store.VerifyServerCert("peer-1", []byte("cert-der")), check.IsNil)
}

func (s *identitySuite) TestVerifyServerCertMismatchWithoutArbiterFails(c *check.C) {
	dir := c.MkDir()
	store, err := identity.NewStore(dir, nil, nil)
	c.Assert(err, check.IsNil)

	c.Assert(store.VerifyServerCert("peer-1", []byte("cert-der-one")), check.IsNil)

	err = store.VerifyServerCert("peer-1", []byte("cert-der-two"))
	c.Assert(err, check.Equals, identity.ErrFingerprintMismatch)
}

func (s *identitySuite) TestVerifyServerCertMismatchArbiterAcceptRotates(c *check.C) {
	dir := c.MkDir()
	arbiter := &fakeArbiter{decision: identity.Accept}
	store, err := identity.NewStore(dir, arbiter, nil)
	c.Assert(err, check.IsNil)

	c.Assert(store.VerifyServerCert("peer-1", []byte("cert-der-one")), check.IsNil)
	arbiter.calls = 0

	err = store.VerifyServerCert("peer-1", []byte("cert-der-two"))
	c.Assert(err, check.IsNil)
	c.Assert(arbiter.calls, check.Equals, 1)

	fp, ok := store.KnownFingerprint("peer-1")
	c.Assert(ok, check.Equals, true)
	c.Assert(fp, check.Equals, identity.CalculateFingerprint([]byte("cert-der-two")))
}

func (s *identitySuite) TestWhitelistRoundTrips(c *check.C) {
	dir := c.MkDir()
	store, err := identity.NewStore(dir, nil, nil)
	c.Assert(err, check.IsNil)

	c.Assert(store.IsTrusted("alice"), check.Equals, false)
	c.Assert(store.AddTrust("alice"), check.IsNil)
	c.Assert(store.IsTrusted("alice"), check.Equals, true)

	store2, err := identity.NewStore(dir, nil, nil)
	c.Assert(err, check.IsNil)
	c.Assert(store2.IsTrusted("alice"), check.Equals, true)
}
