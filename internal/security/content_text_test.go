package security

import "testing"

func TestExtractText(t *testing.T) {
	c := NewContentText()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "タグを除去してテキストのみ返す",
			raw:  "<p>check out these <strong>new goggles</strong></p>",
			want: "check out these new goggles",
		},
		{
			name: "スクリプトは内容ごと除去する",
			raw:  "<script>alert('x')</script>hello",
			want: "hello",
		},
		{
			name: "HTMLエンティティをデコードする",
			raw:  "fish &amp; chips",
			want: "fish & chips",
		},
		{
			name: "連続する空白をまとめる",
			raw:  "<div>a</div>   <div>b</div>",
			want: "a b",
		},
		{
			name: "空入力は空文字列",
			raw:  "",
			want: "",
		},
		{
			name: "プレーンテキストはそのまま",
			raw:  "I want the goggles",
			want: "I want the goggles",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.ExtractText(tt.raw); got != tt.want {
				t.Errorf("ExtractText(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestExtractText_Idempotent(t *testing.T) {
	c := NewContentText()
	raw := "<p>new <em>goggles</em> &amp; eyewear</p>"

	first := c.ExtractText(raw)
	second := c.ExtractText(first)

	if first != second {
		t.Errorf("冪等性が成立していません: first=%q second=%q", first, second)
	}
}
