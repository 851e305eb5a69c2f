// Package kvtest holds a conformance suite every storage.KV backend runs.
package kvtest

import (
	"context"

	"github.com/stretchr/testify/suite"

	"jobwatch/internal/storage"
)

// Suite exercises the KV contract. Backends embed it and set New.
type Suite struct {
	suite.Suite
	Ctx context.Context
	New func() storage.KV

	kv storage.KV
}

func (s *Suite) SetupTest() {
	if s.Ctx == nil {
		s.Ctx = context.Background()
	}
	s.kv = s.New()
}

func (s *Suite) TearDownTest() {
	if s.kv != nil {
		_ = s.kv.Remove(s.Ctx, "a", "b", "c")
	}
}

func (s *Suite) TestGetMissing() {
	v, ok, err := s.kv.Get(s.Ctx, "a")
	s.NoError(err)
	s.False(ok)
	s.Nil(v)
}

func (s *Suite) TestSetAndGet() {
	s.Require().NoError(s.kv.Set(s.Ctx, "a", []byte(`{"x":1}`)))

	v, ok, err := s.kv.Get(s.Ctx, "a")
	s.NoError(err)
	s.True(ok)
	s.JSONEq(`{"x":1}`, string(v))
}

func (s *Suite) TestLastWriteWins() {
	s.Require().NoError(s.kv.Set(s.Ctx, "a", []byte("one")))
	s.Require().NoError(s.kv.Set(s.Ctx, "a", []byte("two")))

	v, ok, err := s.kv.Get(s.Ctx, "a")
	s.NoError(err)
	s.True(ok)
	s.Equal("two", string(v))
}

func (s *Suite) TestRemoveMany() {
	s.Require().NoError(s.kv.Set(s.Ctx, "a", []byte("1")))
	s.Require().NoError(s.kv.Set(s.Ctx, "b", []byte("2")))
	s.Require().NoError(s.kv.Set(s.Ctx, "c", []byte("3")))

	s.Require().NoError(s.kv.Remove(s.Ctx, "a", "b", "missing"))

	_, ok, err := s.kv.Get(s.Ctx, "a")
	s.NoError(err)
	s.False(ok)
	_, ok, err = s.kv.Get(s.Ctx, "b")
	s.NoError(err)
	s.False(ok)
	_, ok, err = s.kv.Get(s.Ctx, "c")
	s.NoError(err)
	s.True(ok)

	s.NoError(s.kv.Remove(s.Ctx))
}

func (s *Suite) TestJSONHelpers() {
	type record struct {
		IDs []string `json:"ids"`
	}
	s.Require().NoError(storage.SetJSON(s.Ctx, s.kv, "a", record{IDs: []string{"x", "y"}}))

	var got record
	ok, err := storage.GetJSON(s.Ctx, s.kv, "a", &got)
	s.NoError(err)
	s.True(ok)
	s.Equal([]string{"x", "y"}, got.IDs)

	ok, err = storage.GetJSON(s.Ctx, s.kv, "b", &got)
	s.NoError(err)
	s.False(ok)
}
