package subprocess

import (
	"reflect"
	"testing"
)

func TestSplitCommand(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{`sf apex run test --wait 10`, []string{"sf", "apex", "run", "test", "--wait", "10"}},
		{`echo "hello world"`, []string{"echo", "hello world"}},
		{`npm run test:unit -- --coverage`, []string{"npm", "run", "test:unit", "--", "--coverage"}},
		{`sf data query --query 'SELECT Id FROM Account'`, []string{"sf", "data", "query", "--query", "SELECT Id FROM Account"}},
		{``, nil},
	}
	for _, tc := range cases {
		got := SplitCommand(tc.in)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("SplitCommand(%q) = %#v, want %#v", tc.in, got, tc.want)
		}
	}
}
