package keyedmutex

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type KeyedMutexSuite struct {
	suite.Suite
	km *KeyedMutex
}

func TestKeyedMutexSuite(t *testing.T) {
	suite.Run(t, new(KeyedMutexSuite))
}

func (s *KeyedMutexSuite) SetupTest() {
	s.km = New()
}

func (s *KeyedMutexSuite) TestSameKeySerializes() {
	const workers = 16
	var active, maxActive int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := s.km.Lock("aton-0001")
			defer unlock()

			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	s.Equal(1, maxActive)
	s.Equal(0, s.km.Len())
}

func (s *KeyedMutexSuite) TestDifferentKeysProceedInParallel() {
	unlockA := s.km.Lock("aton-a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := s.km.Lock("aton-b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		s.Fail("lock on an unrelated key blocked behind another key")
	}
}

func (s *KeyedMutexSuite) TestEntriesReclaimed() {
	for i := 0; i < 100; i++ {
		unlock := s.km.Lock(string(rune('a' + i%26)))
		unlock()
	}
	s.Equal(0, s.km.Len())
}
