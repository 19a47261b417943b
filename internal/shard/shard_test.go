package shard

import (
	"reflect"
	"testing"
)

func TestDeriveShardCount(t *testing.T) {
	cases := []struct {
		guilds, perShard, want int
	}{
		{0, 2500, 1},
		{1, 2500, 1},
		{2500, 2500, 1},
		{2501, 2500, 2},
		{9000, 2500, 4},
		{10000, 2500, 4},
		{10001, 2500, 5},
	}
	for _, tc := range cases {
		if got := DeriveShardCount(tc.guilds, tc.perShard); got != tc.want {
			t.Errorf("DeriveShardCount(%d, %d) = %d, want %d",
				tc.guilds, tc.perShard, got, tc.want)
		}
	}
}

func TestCalculateShardID(t *testing.T) {
	// Snowflakes built as (timestamp << 22) + low bits so the expected
	// placement is exact: 5<<22 = 20971520, 7<<22 = 29360128.
	cases := []struct {
		guildID string
		count   int
		want    int
	}{
		{"20971520", 1, 0},
		{"20971520", 2, 1},
		{"20971520", 4, 1},
		{"29360128", 4, 3},
		{"29360129", 4, 3},
	}
	for _, tc := range cases {
		got, err := CalculateShardID(tc.guildID, tc.count)
		if err != nil {
			t.Fatalf("CalculateShardID(%q, %d) failed: %v", tc.guildID, tc.count, err)
		}
		if got != tc.want {
			t.Errorf("CalculateShardID(%q, %d) = %d, want %d",
				tc.guildID, tc.count, got, tc.want)
		}
	}

	if _, err := CalculateShardID("not-a-snowflake", 4); err == nil {
		t.Error("expected parse error")
	}
	if _, err := CalculateShardID("123", 0); err == nil {
		t.Error("expected shard count error")
	}
}

func TestSpawnBuckets(t *testing.T) {
	cases := []struct {
		name string
		ids  []int
		mc   int
		want [][]int
	}{
		{
			name: "single bucket",
			ids:  []int{0, 1, 2, 3},
			mc:   1,
			want: [][]int{{0, 1, 2, 3}},
		},
		{
			name: "two buckets interleaved",
			ids:  []int{0, 1, 2, 3},
			mc:   2,
			want: [][]int{{0, 2}, {1, 3}},
		},
		{
			name: "subset same bucket",
			ids:  []int{0, 2, 4},
			mc:   2,
			want: [][]int{{0, 2, 4}},
		},
		{
			name: "one shard per bucket",
			ids:  []int{0, 1, 2, 3},
			mc:   16,
			want: [][]int{{0}, {1}, {2}, {3}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := spawnBuckets(tc.ids, tc.mc); !reflect.DeepEqual(got, tc.want) {
				t.Errorf("spawnBuckets(%v, %d) = %v, want %v", tc.ids, tc.mc, got, tc.want)
			}
		})
	}
}

func TestOptions_Validate(t *testing.T) {
	base := Options{
		Token:      "token",
		GatewayURL: "wss://gateway.example",
		ShardCount: 2,
	}

	good := base
	good.applyDefaults()
	if err := good.validate(); err != nil {
		t.Errorf("valid options rejected: %v", err)
	}
	if !reflect.DeepEqual(good.ShardIDs, []int{0, 1}) {
		t.Errorf("ShardIDs = %v, want [0 1]", good.ShardIDs)
	}

	cases := []struct {
		name string
		mut  func(*Options)
	}{
		{"empty token", func(o *Options) { o.Token = "" }},
		{"empty url", func(o *Options) { o.GatewayURL = "" }},
		{"concurrency too high", func(o *Options) { o.MaxConcurrency = 17 }},
		{"shard id out of range", func(o *Options) { o.ShardIDs = []int{5} }},
		{"too many guilds per shard", func(o *Options) { o.TotalGuilds = 9000 }},
		{"explicit count under guild load", func(o *Options) {
			o.ShardCount = 1
			o.ShardIDs = []int{0}
			o.TotalGuilds = 9000
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := base
			o.applyDefaults()
			tc.mut(&o)
			if err := o.validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestOptions_DerivesShardCount(t *testing.T) {
	o := Options{
		Token:       "token",
		GatewayURL:  "wss://gateway.example",
		TotalGuilds: 9000,
	}
	o.applyDefaults()
	if o.ShardCount != 4 {
		t.Errorf("ShardCount = %d, want 4", o.ShardCount)
	}
	if len(o.ShardIDs) != 4 {
		t.Errorf("ShardIDs = %v, want all four", o.ShardIDs)
	}
}
