package repo

import "testing"

func TestSplitGitHubURL(t *testing.T) {
	cases := []struct {
		url         string
		owner, name string
		wantErr     bool
	}{
		{url: "https://github.com/acme/widgets.git", owner: "acme", name: "widgets"},
		{url: "https://github.com/acme/widgets", owner: "acme", name: "widgets"},
		{url: "git@github.com:acme/widgets.git", owner: "acme", name: "widgets"},
		{url: "https://gitlab.com/acme/widgets", wantErr: true},
		{url: "https://github.com/", wantErr: true},
	}
	for _, tc := range cases {
		owner, name, err := splitGitHubURL(tc.url)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tc.url)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tc.url, err)
			continue
		}
		if owner != tc.owner || name != tc.name {
			t.Errorf("%s: got %s/%s", tc.url, owner, name)
		}
	}
}
