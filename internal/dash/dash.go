package dash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/you/flash-arb/internal/detector"
	"github.com/you/flash-arb/internal/marketdata"
	"github.com/you/flash-arb/internal/types"
	"go.uber.org/zap"
)

// Row is one (pair, venue) quote as of the last scan.
type Row struct {
	Pair      string  `json:"pair"`
	Symbol    string  `json:"symbol"`
	Venue     string  `json:"venue"`
	Price     float64 `json:"price"`
	Liquidity uint64  `json:"liquidity"`
	// SpreadPct is this venue's price against the cheapest venue for the pair.
	SpreadPct float64 `json:"spreadPct"`
	Cheapest  bool    `json:"cheapest"`
	TS        int64   `json:"ts"`
}

type Store struct {
	mu   sync.RWMutex
	rows map[string]Row // key: pair|venue
}

func NewStore() *Store { return &Store{rows: make(map[string]Row, 64)} }

// Update replaces the rows of snap's pair with one row per venue that answered
// with a positive finite price.
func (s *Store) Update(symbol string, snap marketdata.Snapshot) {
	quotes := make([]types.PriceQuote, 0, len(snap.Quotes))
	for _, q := range snap.Quotes {
		if q.Price > 0 && !math.IsNaN(q.Price) && !math.IsInf(q.Price, 0) {
			quotes = append(quotes, q)
		}
	}
	if len(quotes) == 0 {
		return
	}
	pair := snap.Pair.String()
	cheapest := quotes[0]
	for _, q := range quotes[1:] {
		if q.Price < cheapest.Price {
			cheapest = q
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, r := range s.rows {
		if r.Pair == pair {
			delete(s.rows, k)
		}
	}
	for _, q := range quotes {
		spread, _ := detector.Spread(cheapest.Price, q.Price).Float64()
		s.rows[pair+"|"+q.Venue] = Row{
			Pair:      pair,
			Symbol:    symbol,
			Venue:     q.Venue,
			Price:     q.Price,
			Liquidity: q.Liquidity,
			SpreadPct: spread,
			Cheapest:  q.Venue == cheapest.Venue,
			TS:        snap.Ts.UnixMilli(),
		}
	}
}

func (s *Store) List() []Row {
	s.mu.RLock()
	out := make([]Row, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol == out[j].Symbol {
			return out[i].Venue < out[j].Venue
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// Handler serves /api/dash, /api/stats and the HTML page. stats may be nil.
func Handler(s *Store, stats func() any) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/dash", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.List())
	})
	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		if stats == nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats())
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, indexHTML)
	})
	return withCORS(mux)
}

func StartHTTP(ctx context.Context, s *Store, addr string, stats func() any, log *zap.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(s, stats),
		ReadHeaderTimeout: 3 * time.Second,
	}

	go func() { <-ctx.Done(); _ = srv.Close() }()

	log.Info("dash listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("dash http server error", zap.Error(err))
	}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

const indexHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  <title>Cross-venue Arb Monitor</title>
  <style>
    :root { --bg:#f8fafc; --card:#fff; --muted:#6b7280; --chip:#e5e7eb; }
    body{margin:0;background:var(--bg);font:14px/1.4 ui-sans-serif,system-ui,-apple-system,Segoe UI,Roboto,Ubuntu; color:#111827;}
    .wrap{max-width:1080px;margin:24px auto;padding:0 16px;}
    .hdr{display:flex;align-items:flex-end;justify-content:space-between;margin-bottom:12px;}
    .state{font-size:12px;padding:2px 8px;border-radius:999px;background:#d1fae5;color:#065f46;}
    table{width:100%;border-collapse:collapse;background:var(--card);border-radius:16px;overflow:hidden;box-shadow:0 10px 30px rgba(0,0,0,.06);}
    thead{background:#f3f4f6;} th,td{padding:12px 14px;text-align:left;} tbody tr{border-top:1px solid #f3f4f6;}
    .chip{display:inline-block;font-size:12px;padding:2px 8px;background:var(--chip);border-radius:999px;color:#374151;}
    .pct{padding:2px 8px;border-radius:8px;font-size:12px;}
    .pct.ok{background:#dcfce7;color:#166534;} .pct.dim{background:#f3f4f6;color:#6b7280;}
    .sub{color:var(--muted);font-size:12px;margin:0;}
    .stats{display:flex;gap:8px;margin-bottom:12px;flex-wrap:wrap;}
  </style>
</head>
<body>
<div class="wrap">
  <div class="hdr">
    <div>
      <h1 style="margin:0;font-size:22px;font-weight:600">Cross-venue Arb Monitor</h1>
      <p class="sub">Flash-loan arbitrage across DEX venues (Arbitrum)</p>
    </div>
    <div id="state" class="state">live</div>
  </div>
  <div id="stats" class="stats"></div>
  <table>
    <thead>
      <tr>
        <th>Pair</th><th>Venue</th><th>Price</th><th>Liquidity</th>
        <th>Spread vs cheapest</th>
        <th style="text-align:right">Updated</th>
      </tr>
    </thead>
    <tbody id="rows"></tbody>
  </table>
  <p class="sub" style="margin-top:8px">Spread = (venue px / cheapest px) − 1. One row per venue that answered the last scan.</p>
</div>
<script>
  function num(x){ return (x==null||isNaN(x)||x===0) ? '—' : Number(x).toLocaleString(undefined,{maximumFractionDigits:8}); }
  function pct(x){ return (x==null||isNaN(x)) ? '—' : (Number(x).toFixed(3)+'%'); }
  function rowHTML(r){
    return '<tr>'
      + '<td><strong>' + (r.symbol||r.pair||'') + '</strong></td>'
      + '<td><span class="chip">' + (r.venue||'') + '</span></td>'
      + '<td>' + num(r.price) + '</td>'
      + '<td>' + num(r.liquidity) + '</td>'
      + '<td><span class="pct ' + (r.cheapest?'dim':'ok') + '">' + (r.cheapest ? 'buy side' : pct(r.spreadPct)) + '</span></td>'
      + '<td style="text-align:right;color:#6B7280;font-size:12px">' + new Date(r.ts||Date.now()).toLocaleTimeString() + '</td>'
      + '</tr>';
  }
  function statsHTML(s){
    return ['Status','OpportunitiesDetected','Executed','Succeeded','Failed','Active','TotalProfit']
      .map(function(k){ return '<span class="chip">' + k + ': ' + (s[k]==null?'—':s[k]) + '</span>'; }).join('');
  }
  async function tick(){
    try{
      var res = await fetch('/api/dash', {cache:'no-store'});
      if(!res.ok) throw new Error('status '+res.status);
      var data = await res.json();
      document.getElementById('state').textContent = 'live';
      document.getElementById('rows').innerHTML = data.map(rowHTML).join('');
      var st = await fetch('/api/stats', {cache:'no-store'});
      if(st.ok){ document.getElementById('stats').innerHTML = statsHTML(await st.json()); }
    }catch(e){
      document.getElementById('state').textContent = 'offline';
    }
  }
  tick(); setInterval(tick, 1000);
</script>
</body>
</html>`
