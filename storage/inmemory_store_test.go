package storage_test

import (
	"context"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/beacon/storage"
)

var _ = Describe("storage / InmemoryStore", func() {
	Describe("Close()", func() {
		It("does not panic when closed twice", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			Expect(func() { store.Close() }).NotTo(Panic())
			Expect(func() { store.Close() }).NotTo(Panic())
		})
	})

	It("an empty inmemory store equals {}", func() {
		store := storage.NewInmemoryStore()
		defer store.Close()

		value, err := store.Backup()
		Expect(err).To(Succeed())
		Expect(string(value)).To(Equal(`{}`))
	})

	Describe("Set() / Get()", func() {
		It("can read a key that is written", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			err := store.Set(context.Background(), "foo", "bar")
			Expect(err).To(Succeed())

			Expect(store.Get(context.Background(), "foo")).To(Equal([]byte(`"bar"`)))

			value, err := store.Backup()
			Expect(err).To(Succeed())
			Expect(string(value)).To(Equal(`{"foo":"bar"}`))
		})

		It("returns nil for a key that was never written", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			value, err := store.Get(context.Background(), "missing")
			Expect(err).To(Succeed())
			Expect(value).To(BeNil())
		})

		It("keeps the JSON type of stored values", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			Expect(store.Set(context.Background(), "count", 3)).To(Succeed())
			Expect(store.Get(context.Background(), "count")).To(Equal([]byte(`3`)))
		})
	})

	Describe("Delete()", func() {
		It("removes the key", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			Expect(store.Set(context.Background(), "foo", "bar")).To(Succeed())
			Expect(store.Delete(context.Background(), "foo")).To(Succeed())

			value, err := store.Get(context.Background(), "foo")
			Expect(err).To(Succeed())
			Expect(value).To(BeNil())
		})

		It("is a no-op for a missing key", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			Expect(store.Delete(context.Background(), "missing")).To(Succeed())
		})
	})

	Describe("Keys()", func() {
		It("lists every top level key", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			Expect(store.Set(context.Background(), "a", 1)).To(Succeed())
			Expect(store.Set(context.Background(), "b", 2)).To(Succeed())

			Expect(store.Keys(context.Background())).To(ConsistOf("a", "b"))
		})
	})

	Describe("Backup() / Restore()", func() {
		It("round-trips the whole key space", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			Expect(store.Set(context.Background(), "foo", "bar")).To(Succeed())

			snapshot, err := store.Backup()
			Expect(err).To(Succeed())

			restored := storage.NewInmemoryStore()
			defer restored.Close()

			Expect(restored.Restore(snapshot)).To(Succeed())
			Expect(restored.Get(context.Background(), "foo")).To(Equal([]byte(`"bar"`)))
		})
	})
})
