package archive

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/mangogate/errs"
	"github.com/coachpo/mangogate/internal/domain/schema"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(Options{
		FillsURL:      srv.URL + "/",
		MarketDataURL: srv.URL,
		MaxRetries:    1,
		RetryDelay:    time.Millisecond,
	})
	require.NoError(t, err)
	return client
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient(Options{FillsURL: "ftp://archive"})
	require.True(t, errs.IsCode(err, errs.CodeConfig))

	c, err := NewClient(Options{})
	require.NoError(t, err)
	require.Equal(t, DefaultFillsURL, c.fillsURL)
}

func TestSpotFillsDecodesFlexibleIdentifiers(t *testing.T) {
	oo := solana.NewWallet().PublicKey()
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/trades/open_orders/"+oo.String(), r.URL.Path)
		_, _ = w.Write([]byte(`{"success":true,"data":[
			{"orderId":"0012","seqNum":7,"clientOrderId":"0","marketName":"SOL/USDC","side":"buy",
			 "price":"21.5","size":2,"feeCost":-0.01,"maker":true,"loadTimestamp":"2022-03-01T10:00:00.000Z"},
			{"orderId":null,"seqNum":"8","clientOrderId":42,"marketName":"SOL/USDC","side":"sell",
			 "price":22,"size":"1.5","feeCost":0.02,"maker":false,"loadTimestamp":1646128800}
		]}`))
	})

	fills, err := client.SpotFills(context.Background(), oo)
	require.NoError(t, err)
	require.Len(t, fills, 2)

	require.Equal(t, "12", fills[0].OrderID)
	require.Equal(t, "7", fills[0].SeqNum)
	require.Empty(t, fills[0].ClientID)
	require.Equal(t, schema.SideBuy, fills[0].Side)
	require.True(t, fills[0].Price.Equal(decimal.RequireFromString("21.5")))
	require.True(t, fills[0].Maker)
	require.Equal(t, schema.FillHistorical, fills[0].Source)
	require.Equal(t, schema.KindSpot, fills[0].MarketKind)
	require.Equal(t, 2022, fills[0].Time.Year())

	require.Empty(t, fills[1].OrderID)
	require.Equal(t, "8", fills[1].SeqNum)
	require.Equal(t, "42", fills[1].ClientID)
	require.Equal(t, time.Unix(1646128800, 0).UTC(), fills[1].Time)
}

func TestPerpFillsFromAccountSide(t *testing.T) {
	account := solana.NewWallet().PublicKey()
	other := solana.NewWallet().PublicKey()
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/perp_trades/"+account.String(), r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[
			{"seqNum":1,"marketName":"SOL-PERP","maker":"` + account.String() + `","makerOrderId":"100","makerFee":-0.0004,
			 "taker":"` + other.String() + `","takerOrderId":"200","takerFee":0.0005,"takerSide":"buy","price":10,"quantity":2},
			{"seqNum":2,"marketName":"SOL-PERP","maker":"` + other.String() + `","makerOrderId":"300","makerFee":-0.0004,
			 "taker":"` + account.String() + `","takerOrderId":"400","takerClientOrderId":9,"takerFee":0.0005,"takerSide":"sell","price":10,"quantity":2}
		]}`))
	})

	fills, err := client.PerpFills(context.Background(), account)
	require.NoError(t, err)
	require.Len(t, fills, 2)

	require.True(t, fills[0].Maker)
	require.Equal(t, schema.SideSell, fills[0].Side, "maker takes the opposite of the taker side")
	require.Equal(t, "100", fills[0].OrderID)
	require.Equal(t, other.String(), fills[0].Counterparty)
	require.True(t, fills[0].FeeCost.Equal(decimal.RequireFromString("-0.008")))

	require.False(t, fills[1].Maker)
	require.Equal(t, schema.SideSell, fills[1].Side)
	require.Equal(t, "400", fills[1].OrderID)
	require.Equal(t, "9", fills[1].ClientID)
	require.True(t, fills[1].FeeCost.Equal(decimal.RequireFromString("0.01")))
}

func TestNotFoundYieldsNoFills(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	})
	fills, err := client.SpotFills(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	require.Empty(t, fills)
}

func TestServerErrorsAreRetriedThenReported(t *testing.T) {
	var hits atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := client.PerpFills(context.Background(), solana.NewWallet().PublicKey())
	require.True(t, errs.IsCode(err, errs.CodeNetwork), "got %v", err)
	require.Equal(t, int32(2), hits.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var hits atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})
	_, err := client.PerpFills(context.Background(), solana.NewWallet().PublicKey())
	require.True(t, errs.IsCode(err, errs.CodeNetwork))
	require.Equal(t, int32(1), hits.Load())
}

func TestRetryRecoversAfterTransientFailure(t *testing.T) {
	var hits atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	fills, err := client.PerpFills(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	require.Empty(t, fills)
}

func TestMalformedBodyIsDecodeError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"price":"abc"}]}`))
	})
	_, err := client.SpotFills(context.Background(), solana.NewWallet().PublicKey())
	require.True(t, errs.IsCode(err, errs.CodeDecode), "got %v", err)
}

func TestTrades(t *testing.T) {
	market := solana.NewWallet().PublicKey()
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/trades/address/"+market.String(), r.URL.Path)
		_, _ = w.Write([]byte(`{"success":true,"data":[{"orderId":"55","price":21.1,"size":3,"side":"sell","time":1646128800123}]}`))
	})
	trades, err := client.Trades(context.Background(), market)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, "55", trades[0].ID)
	require.Equal(t, schema.SideSell, trades[0].Side)
	require.Equal(t, time.UnixMilli(1646128800123).UTC(), trades[0].Time)
}

func TestTradesErrorStatusIsEmpty(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"s":"error","errmsg":"unknown market"}`))
	})
	trades, err := client.Trades(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	require.Empty(t, trades)
}

func TestCandles(t *testing.T) {
	from := time.Unix(1646000000, 0)
	to := time.Unix(1646100000, 0)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tv/history", r.URL.Path)
		q := r.URL.Query()
		require.Equal(t, "SOL-PERP", q.Get("symbol"))
		require.Equal(t, "60", q.Get("resolution"))
		require.Equal(t, "1646000000", q.Get("from"))
		require.Equal(t, "1646100000", q.Get("to"))
		_, _ = w.Write([]byte(`{"s":"ok","t":[1646000000,1646003600],"o":[1,2],"h":[3,4],"l":[0.5,1.5],"c":[2,3],"v":[10,20]}`))
	})
	candles, err := client.Candles(context.Background(), "SOL-PERP", "60", from, to)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	require.Equal(t, from.UTC(), candles[0].Time)
	require.True(t, candles[1].Volume.Equal(decimal.NewFromInt(20)))
	require.True(t, candles[0].Low.Equal(decimal.RequireFromString("0.5")))
}

func TestCandlesNoData(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"s":"no_data"}`))
	})
	candles, err := client.Candles(context.Background(), "SOL-PERP", "1D", time.Now(), time.Now())
	require.NoError(t, err)
	require.Empty(t, candles)
}

func TestPerpVolume(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"volume":"12345.5"}}`))
	})
	v, err := client.PerpVolume(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	require.True(t, v.Equal(decimal.RequireFromString("12345.5")))
}
