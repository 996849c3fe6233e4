package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/miekg/dns"
)

func txtAnswer(req *dns.Msg, fragments ...string) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.Answer = append(resp.Answer, &dns.TXT{
		Hdr: dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 300},
		Txt: fragments,
	})
	return resp
}

func mxAnswer(req *dns.Msg, pref uint16, host string) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.Answer = append(resp.Answer, &dns.MX{
		Hdr:        dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypeMX, Class: dns.ClassINET, Ttl: 300},
		Preference: pref,
		Mx:         host,
	})
	return resp
}

func cnameAnswer(req *dns.Msg, target string) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.Answer = append(resp.Answer, &dns.CNAME{
		Hdr:    dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypeCNAME, Class: dns.ClassINET, Ttl: 300},
		Target: target,
	})
	return resp
}

func rcodeAnswer(req *dns.Msg, rcode int) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.Rcode = rcode
	return resp
}

// stubService builds a Service whose exchange is answered by fn keyed on
// the probed server address.
func stubService(fn func(addr string, req *dns.Msg) (*dns.Msg, error)) *Service {
	s := NewService()
	s.exchange = func(ctx context.Context, msg *dns.Msg, addr string) (*dns.Msg, time.Duration, error) {
		resp, err := fn(addr, msg)
		return resp, 2 * time.Millisecond, err
	}
	return s
}

func TestQueryServerTXT(t *testing.T) {
	spf := "v=spf1 ip4:203.0.113.9 ~all"
	s := stubService(func(addr string, req *dns.Msg) (*dns.Msg, error) {
		return txtAnswer(req, spf), nil
	})

	result := s.QueryServer(context.Background(), DefaultPool[0], "example.com", TypeTXT, spf)
	if !result.Success {
		t.Fatalf("expected success, got %q", result.Err)
	}
	if !result.MatchesExpected {
		t.Errorf("expected match, records %v", result.Records)
	}
	if result.Server != "8.8.8.8" || result.Provider != ProviderGoogle {
		t.Errorf("server identity lost: %+v", result)
	}
	if result.ResponseTime == 0 {
		t.Error("expected response time recorded")
	}
}

func TestQueryServerTXTFragmentsConcatenated(t *testing.T) {
	s := stubService(func(addr string, req *dns.Msg) (*dns.Msg, error) {
		return txtAnswer(req, "v=spf1 ip4:1.2.3.4 ", "ip4:5.6.7.8 ~all"), nil
	})

	result := s.QueryServer(context.Background(), DefaultPool[0], "example.com", TypeTXT, "")
	if len(result.Records) != 1 {
		t.Fatalf("expected 1 concatenated record, got %v", result.Records)
	}
	if result.Records[0] != "v=spf1 ip4:1.2.3.4 ip4:5.6.7.8 ~all" {
		t.Errorf("fragments not concatenated: %q", result.Records[0])
	}
	if !result.MatchesExpected {
		t.Error("empty expectation must match any answer")
	}
}

func TestQueryServerMX(t *testing.T) {
	s := stubService(func(addr string, req *dns.Msg) (*dns.Msg, error) {
		return mxAnswer(req, 1, "smtp.google.com."), nil
	})

	result := s.QueryServer(context.Background(), DefaultPool[0], "example.com", TypeMX, "1 smtp.google.com")
	if !result.Success || !result.MatchesExpected {
		t.Fatalf("expected MX match, got %+v", result)
	}
	if result.Records[0] != "1 smtp.google.com" {
		t.Errorf("unexpected MX rendering %q", result.Records[0])
	}
}

func TestQueryServerCNAME(t *testing.T) {
	s := stubService(func(addr string, req *dns.Msg) (*dns.Msg, error) {
		return cnameAnswer(req, "open.sleadtrack.com."), nil
	})

	result := s.QueryServer(context.Background(), DefaultPool[0], "track.example.com", TypeCNAME, "open.sleadtrack.com")
	if !result.Success || !result.MatchesExpected {
		t.Fatalf("expected CNAME match, got %+v", result)
	}
}

func TestQueryServerCaseInsensitiveMatch(t *testing.T) {
	s := stubService(func(addr string, req *dns.Msg) (*dns.Msg, error) {
		return txtAnswer(req, "V=SPF1 IP4:1.2.3.4 ~ALL"), nil
	})

	result := s.QueryServer(context.Background(), DefaultPool[0], "example.com", TypeTXT, "v=spf1 ip4:1.2.3.4 ~all")
	if !result.MatchesExpected {
		t.Error("comparison must be case-insensitive")
	}
}

func TestQueryServerErrors(t *testing.T) {
	testCases := []struct {
		name    string
		fn      func(addr string, req *dns.Msg) (*dns.Msg, error)
		wantErr string
	}{
		{
			name: "NXDOMAIN",
			fn: func(addr string, req *dns.Msg) (*dns.Msg, error) {
				return rcodeAnswer(req, dns.RcodeNameError), nil
			},
			wantErr: ErrNoRecords,
		},
		{
			name: "SERVFAIL",
			fn: func(addr string, req *dns.Msg) (*dns.Msg, error) {
				return rcodeAnswer(req, dns.RcodeServerFailure), nil
			},
			wantErr: ErrServerFailure,
		},
		{
			name: "Empty answer",
			fn: func(addr string, req *dns.Msg) (*dns.Msg, error) {
				return rcodeAnswer(req, dns.RcodeSuccess), nil
			},
			wantErr: ErrNoRecords,
		},
		{
			name: "Timeout",
			fn: func(addr string, req *dns.Msg) (*dns.Msg, error) {
				return nil, context.DeadlineExceeded
			},
			wantErr: ErrTimeout,
		},
		{
			name: "Wire error",
			fn: func(addr string, req *dns.Msg) (*dns.Msg, error) {
				return nil, errors.New("read udp: i/o timeout")
			},
			wantErr: ErrTimeout,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := stubService(tc.fn)
			result := s.QueryServer(context.Background(), DefaultPool[0], "example.com", TypeTXT, "x")
			if result.Success {
				t.Fatal("expected failure")
			}
			if result.Err != tc.wantErr {
				t.Errorf("expected error %q, got %q", tc.wantErr, result.Err)
			}
		})
	}
}

func TestQueryServerUnsupportedType(t *testing.T) {
	s := stubService(func(addr string, req *dns.Msg) (*dns.Msg, error) {
		t.Fatal("exchange must not be called")
		return nil, nil
	})
	result := s.QueryServer(context.Background(), DefaultPool[0], "example.com", "BOGUS", "")
	if result.Success || result.Err == "" {
		t.Errorf("expected failure for bogus type, got %+v", result)
	}
}

func TestQueryAcrossServersPartialPropagation(t *testing.T) {
	spf := "v=spf1 ip4:203.0.113.9 ~all"
	answered := map[string]bool{
		"8.8.8.8:53": true,
		"8.8.4.4:53": true,
		"1.1.1.1:53": true,
	}
	s := stubService(func(addr string, req *dns.Msg) (*dns.Msg, error) {
		if answered[addr] {
			return txtAnswer(req, spf), nil
		}
		return rcodeAnswer(req, dns.RcodeNameError), nil
	})

	agg := s.QueryAcrossServers(context.Background(), "example.com", TypeTXT, spf)

	if agg.TotalServers != 6 {
		t.Fatalf("expected 6 servers, got %d", agg.TotalServers)
	}
	if agg.PropagatedServers != 3 {
		t.Errorf("expected 3 propagated, got %d", agg.PropagatedServers)
	}
	if agg.PropagationPercentage != 50 {
		t.Errorf("expected 50%%, got %d%%", agg.PropagationPercentage)
	}
	if agg.IsPropagated {
		t.Error("50% is not fully propagated")
	}
}

func TestQueryAcrossServersFullPropagation(t *testing.T) {
	spf := "v=spf1 ip4:203.0.113.9 ~all"
	s := stubService(func(addr string, req *dns.Msg) (*dns.Msg, error) {
		return txtAnswer(req, spf), nil
	})

	agg := s.QueryAcrossServers(context.Background(), "example.com", TypeTXT, spf)
	if !agg.IsPropagated || agg.PropagationPercentage != 100 {
		t.Errorf("expected full propagation, got %d%%", agg.PropagationPercentage)
	}
}

func TestQueryAcrossServersWrongValue(t *testing.T) {
	s := stubService(func(addr string, req *dns.Msg) (*dns.Msg, error) {
		return txtAnswer(req, "v=spf1 include:old.example ~all"), nil
	})

	agg := s.QueryAcrossServers(context.Background(), "example.com", TypeTXT, "v=spf1 ip4:203.0.113.9 ~all")
	if agg.PropagatedServers != 0 {
		t.Errorf("stale answers must not count, got %d", agg.PropagatedServers)
	}
	for _, r := range agg.Results {
		if !r.Success {
			t.Errorf("server %s should still report success", r.Server)
		}
		if r.MatchesExpected {
			t.Errorf("server %s must not match", r.Server)
		}
	}
}

func TestWithPoolAndTimeout(t *testing.T) {
	pool := []Server{{IP: "9.9.9.9", Provider: "quad9"}}
	s := NewService(WithPool(pool), WithTimeout(time.Second))
	if len(s.pool) != 1 || s.timeout != time.Second {
		t.Errorf("options not applied: %+v", s)
	}
}
