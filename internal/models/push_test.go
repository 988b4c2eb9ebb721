package models

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSendRequestPayloadDefaults(t *testing.T) {
	got := SendRequest{Body: "Practice time"}.Payload()
	want := NotificationPayload{Title: "Fluency IA", Body: "Practice time", URL: "/home", Tag: "fluency-general"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Payload() mismatch (-want +got):\n%s", diff)
	}

	got = SendRequest{Title: "Hello", Body: "World", URL: "/chat", Tag: "t1"}.Payload()
	want = NotificationPayload{Title: "Hello", Body: "World", URL: "/chat", Tag: "t1"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Payload() mismatch (-want +got):\n%s", diff)
	}
}

func TestSendRequestFilter(t *testing.T) {
	tests := []struct {
		name string
		body string
		want SubscriptionFilter
	}{
		{name: "broadcast", body: `{"title":"x"}`, want: SubscriptionFilter{Broadcast: true}},
		{name: "single user", body: `{"userId":"u1"}`, want: SubscriptionFilter{UserIDs: []string{"u1"}}},
		{name: "user list wins", body: `{"userId":"u1","userIds":["u2","u3"]}`, want: SubscriptionFilter{UserIDs: []string{"u2", "u3"}}},
		{name: "empty list matches nobody", body: `{"userIds":[]}`, want: SubscriptionFilter{UserIDs: []string{}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var req SendRequest
			if err := json.Unmarshal([]byte(tc.body), &req); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if diff := cmp.Diff(tc.want, req.Filter()); diff != "" {
				t.Errorf("Filter() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
