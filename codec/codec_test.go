package codec_test

import (
	"bytes"
	"io"
	"testing"

	"gopkg.in/check.v1"

	"github.com/triphopMahithi/DropTea/codec"
)

func Test(t *testing.T) { check.TestingT(t) }

type codecSuite struct{}

var _ = check.Suite(&codecSuite{})

func (s *codecSuite) TestRoundTripAllAlgorithms(c *check.C) {
	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 200)

	for _, name := range []codec.Name{codec.None, codec.Zstd, codec.Gzip, codec.Zlib} {
		cd, err := codec.ByName(name)
		c.Assert(err, check.IsNil)

		var buf bytes.Buffer
		enc, err := cd.NewEncoder(&buf)
		c.Assert(err, check.IsNil)
		_, err = enc.Write(payload)
		c.Assert(err, check.IsNil)
		c.Assert(enc.Close(), check.IsNil)

		dec, err := cd.NewDecoder(&buf)
		c.Assert(err, check.IsNil)
		got, err := io.ReadAll(dec)
		c.Assert(err, check.IsNil)
		c.Assert(dec.Close(), check.IsNil)

		c.Assert(got, check.DeepEquals, payload, check.Commentf("algorithm %s", name))
	}
}

func (s *codecSuite) TestUnknownAlgorithmFallsBackToZstd(c *check.C) {
	cd, err := codec.ByName("lz4")
	c.Assert(err, check.IsNil)

	want, err := codec.ByName(codec.Zstd)
	c.Assert(err, check.IsNil)
	c.Assert(cd, check.Equals, want)
}
