package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"

	"fluency-push-go/internal/models"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := NewRedisStore(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func endpoints(subs []models.PushSubscription) []string {
	out := make([]string, len(subs))
	for i, s := range subs {
		out[i] = s.Endpoint
	}
	sort.Strings(out)
	return out
}

func seed(t *testing.T, s *RedisStore, subs ...models.PushSubscription) {
	t.Helper()
	for _, sub := range subs {
		if _, err := s.SaveSubscription(context.Background(), sub); err != nil {
			t.Fatalf("SaveSubscription(%s): %v", sub.Endpoint, err)
		}
	}
}

var (
	subA = models.PushSubscription{UserID: "u1", Endpoint: "https://push.example.net/a", P256dh: "pk-a", Auth: "au-a"}
	subB = models.PushSubscription{UserID: "u1", Endpoint: "https://push.example.net/b", P256dh: "pk-b", Auth: "au-b"}
	subC = models.PushSubscription{UserID: "u2", Endpoint: "https://push.example.net/c", P256dh: "pk-c", Auth: "au-c"}
)

func TestRedisListSubscriptions(t *testing.T) {
	s, _ := newTestRedisStore(t)
	seed(t, s, subA, subB, subC)

	tests := []struct {
		name   string
		filter models.SubscriptionFilter
		want   []string
	}{
		{"broadcast", models.SubscriptionFilter{Broadcast: true}, []string{subA.Endpoint, subB.Endpoint, subC.Endpoint}},
		{"single user", models.SubscriptionFilter{UserIDs: []string{"u1"}}, []string{subA.Endpoint, subB.Endpoint}},
		{"user list", models.SubscriptionFilter{UserIDs: []string{"u2", "nobody"}}, []string{subC.Endpoint}},
		{"empty list", models.SubscriptionFilter{UserIDs: []string{}}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListSubscriptions(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("ListSubscriptions: %v", err)
			}
			if diff := cmp.Diff(tt.want, endpoints(got)); diff != "" {
				t.Errorf("endpoints mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRedisSaveSubscriptionUpserts(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	first, err := s.SaveSubscription(ctx, subA)
	if err != nil {
		t.Fatalf("SaveSubscription: %v", err)
	}

	moved := subA
	moved.UserID = "u2"
	moved.P256dh = "pk-rotated"
	second, err := s.SaveSubscription(ctx, moved)
	if err != nil {
		t.Fatalf("SaveSubscription: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("ID changed on upsert: %d -> %d", first.ID, second.ID)
	}

	old, err := s.ListSubscriptions(ctx, models.SubscriptionFilter{UserIDs: []string{"u1"}})
	if err != nil {
		t.Fatalf("ListSubscriptions: %v", err)
	}
	if len(old) != 0 {
		t.Errorf("previous owner still has %d subscriptions", len(old))
	}

	got, err := s.ListSubscriptions(ctx, models.SubscriptionFilter{UserIDs: []string{"u2"}})
	if err != nil {
		t.Fatalf("ListSubscriptions: %v", err)
	}
	if len(got) != 1 || got[0].P256dh != "pk-rotated" {
		t.Errorf("got %+v, want the rotated key", got)
	}
}

func TestRedisSaveSubscriptionConcurrentOwners(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	const writers = 8
	var (
		wg   sync.WaitGroup
		ids  [writers]int
		errs [writers]error
	)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := subA
			sub.UserID = fmt.Sprintf("owner-%d", i)
			saved, err := s.SaveSubscription(ctx, sub)
			ids[i], errs[i] = saved.ID, err
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("writer %d: %v", i, err)
		}
		if ids[i] != ids[0] {
			t.Errorf("writer %d got id %d, want %d", i, ids[i], ids[0])
		}
	}

	owner := mr.HGet(subKey(subA.Endpoint), "user_id")
	for i := range writers {
		user := fmt.Sprintf("owner-%d", i)
		member, _ := mr.SIsMember(userKey(user), subA.Endpoint)
		if member != (user == owner) {
			t.Errorf("%s index holds endpoint = %v, hash owner is %s", user, member, owner)
		}
	}
}

func TestRedisDeleteByEndpoints(t *testing.T) {
	s, mr := newTestRedisStore(t)
	seed(t, s, subA, subB, subC)

	if err := s.DeleteByEndpoints(context.Background(), []string{subA.Endpoint, subC.Endpoint, "https://push.example.net/unknown"}); err != nil {
		t.Fatalf("DeleteByEndpoints: %v", err)
	}

	got, err := s.ListSubscriptions(context.Background(), models.SubscriptionFilter{Broadcast: true})
	if err != nil {
		t.Fatalf("ListSubscriptions: %v", err)
	}
	if diff := cmp.Diff([]string{subB.Endpoint}, endpoints(got)); diff != "" {
		t.Errorf("remaining mismatch (-want +got):\n%s", diff)
	}
	if mr.Exists(subKey(subA.Endpoint)) {
		t.Errorf("hash for %s still exists", subA.Endpoint)
	}
	if ok, _ := mr.SIsMember(userKey("u2"), subC.Endpoint); ok {
		t.Errorf("user index still lists %s", subC.Endpoint)
	}
}

func TestRedisDeleteSubscription(t *testing.T) {
	s, _ := newTestRedisStore(t)
	seed(t, s, subA)
	ctx := context.Background()

	if err := s.DeleteSubscription(ctx, "u2", subA.Endpoint); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("DeleteSubscription by another user = %v, want ErrSubscriptionNotFound", err)
	}
	if err := s.DeleteSubscription(ctx, "u1", subA.Endpoint); err != nil {
		t.Fatalf("DeleteSubscription: %v", err)
	}
	if err := s.DeleteSubscription(ctx, "u1", subA.Endpoint); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("second DeleteSubscription = %v, want ErrSubscriptionNotFound", err)
	}
}

func TestRedisPublishDispatch(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := s.Subscribe(ctx)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	want := models.DispatchSummary{BatchID: "b1", Sent: 2, Total: 3, Failed: 1, CreatedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)}
	if err := s.PublishDispatch(ctx, want); err != nil {
		t.Fatalf("PublishDispatch: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var got models.DispatchSummary
		if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("summary mismatch (-want +got):\n%s", diff)
		}
	case <-ctx.Done():
		t.Fatal("no message on push_events")
	}
}
