package matcher

import (
	"reflect"
	"testing"
)

func TestParseKeywords(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "カンマ区切りをトリムして小文字化する",
			raw:  " Goggles , EYEWEAR ,shades",
			want: []string{"goggles", "eyewear", "shades"},
		},
		{
			name: "空要素は破棄する",
			raw:  "goggles,,  ,eyewear",
			want: []string{"goggles", "eyewear"},
		},
		{
			name: "重複は入力順を保って除去する",
			raw:  "goggles,Eyewear,GOGGLES,eyewear",
			want: []string{"goggles", "eyewear"},
		},
		{
			name: "空文字列は空の結果",
			raw:  "",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseKeywords(tt.raw)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseKeywords(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		keywords []string
		want     []string
	}{
		{
			name:     "大文字小文字を区別せず部分一致する",
			text:     "Great GOGGLES here",
			keywords: []string{"goggles"},
			want:     []string{"goggles"},
		},
		{
			name:     "マッチしないテキストは空",
			text:     "nothing relevant",
			keywords: []string{"goggles"},
			want:     nil,
		},
		{
			name:     "複数キーワードのうち一致分のみ返す",
			text:     "check out these new goggles and shades",
			keywords: []string{"goggles", "eyewear", "shades"},
			want:     []string{"goggles", "shades"},
		},
		{
			name:     "空テキストはマッチなし",
			text:     "",
			keywords: []string{"goggles"},
			want:     nil,
		},
		{
			name:     "キーワードなしはマッチなし",
			text:     "goggles everywhere",
			keywords: nil,
			want:     nil,
		},
		{
			name:     "単語の一部としての出現もマッチする",
			text:     "my swimgoggles arrived",
			keywords: []string{"goggles"},
			want:     []string{"goggles"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Match(tt.text, tt.keywords)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Match(%q, %v) = %v, want %v", tt.text, tt.keywords, got, tt.want)
			}
		})
	}
}

func TestMatch_Deterministic(t *testing.T) {
	keywords := []string{"goggles", "eyewear"}
	text := "new goggles and eyewear in stock"

	first := Match(text, keywords)
	for i := 0; i < 10; i++ {
		if got := Match(text, keywords); !reflect.DeepEqual(got, first) {
			t.Fatalf("Matchの結果が安定していません: %v != %v", got, first)
		}
	}
}
