package kmutex_test

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"banjir.dev/floodwatch/internal/kmutex"
)

var _ = Describe("KMutex", func() {
	It("serializes goroutines contending on the same key", func() {
		km := kmutex.New()
		counter := 0

		var wg sync.WaitGroup
		for range 100 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				km.Lock("dev-1")
				defer km.Unlock("dev-1")
				counter++
			}()
		}
		wg.Wait()

		Expect(counter).To(Equal(100))
	})

	It("does not block goroutines on different keys", func() {
		km := kmutex.New()
		km.Lock("a")

		released := make(chan struct{})
		go func() {
			km.Lock("b")
			km.Unlock("b")
			close(released)
		}()

		Eventually(released).Should(BeClosed())
		km.Unlock("a")
	})
})
