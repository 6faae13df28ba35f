package libby

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rickb777/date/period"
	"github.com/shishobooks/libby/pkg/errcodes"
	"github.com/shishobooks/libby/pkg/formats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := newServer(t, handler)
	c, err := New(Options{
		APIBase:  srv.URL + "/",
		TagsBase: srv.URL + "/vandal/",
	})
	require.NoError(t, err)
	return c, srv
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

const syncBody = `{
	"result": "synchronized",
	"cards": [{
		"cardId": "9",
		"advantageKey": "lapl",
		"library": {"websiteId": 47, "name": " Los Angeles "},
		"limits": {"loan": 10, "hold": 5},
		"counts": {"loan": 3, "hold": 5},
		"lendingPeriods": {
			"book": {"preference": [14, "days"], "options": [[7, "days"], [14, "days"], [21, "days"]]},
			"audiobook": {"preference": [0, "days"], "options": [[7, "days"], [28, "days"]]}
		}
	}],
	"loans": [{
		"id": 123,
		"cardId": "9",
		"type": {"id": "ebook", "name": "eBook"},
		"title": " The Book ",
		"formats": [{"id": "ebook-epub-adobe", "isLockedIn": false}, {"id": "ebook-epub-open", "isLockedIn": false}]
	}],
	"holds": [{"id": "456", "cardId": "9", "type": {"id": "audiobook"}, "title": "Waiting", "isAvailable": false}]
}`

func TestLoginFlow(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/chip", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "dewey", r.URL.Query().Get("client"))
		assert.Empty(t, r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, `{"chip":"c-1","identity":"abc","syncable":false}`)
	})
	mux.HandleFunc("/chip/clone/code", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "12345678", r.PostForm.Get("code"))
		writeJSON(w, http.StatusOK, `{"result":"cloned"}`)
	})
	mux.HandleFunc("/chip/sync", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, syncBody)
	})
	c, _ := newTestClient(t, mux)
	ctx := context.Background()

	chip, err := c.GetChip(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", chip.Identity)
	assert.Equal(t, "abc", c.Identity())

	require.NoError(t, c.CloneByCode(ctx, "12345678"))

	ok, err := c.IsLoggedIn(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	state, err := c.Sync(ctx)
	require.NoError(t, err)
	require.Len(t, state.Loans, 1)
	loan := state.Loans[0]
	assert.Equal(t, ID("123"), loan.ID)
	assert.Equal(t, "The Book", loan.Title)
	assert.Equal(t, formats.MediaEBook, loan.MediaType())
	assert.Equal(t, "Los Angeles", state.Cards[0].Library.Name)
	assert.Equal(t, ID("47"), state.Cards[0].Library.WebsiteID)

	d, err := LoanFormat(loan, true, true)
	require.NoError(t, err)
	assert.Equal(t, formats.EBookEPubOpen, d.ID)
	d, err = LoanFormat(loan, false, true)
	require.NoError(t, err)
	assert.Equal(t, formats.EBookEPubAdobe, d.ID)

	require.Len(t, state.Holds, 1)
	assert.Equal(t, formats.MediaAudiobook, state.Holds[0].MediaType())
	assert.False(t, state.Holds[0].IsSuspended())
}

func TestIsLoggedInWithoutCards(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"result":"synchronized","cards":[]}`)
	}))
	ok, err := c.IsLoggedIn(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMalformedSync(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"result":"synchronized","loans":[{"id":"1","title":"No card"}]}`)
	}))
	_, err := c.Sync(context.Background())
	require.Error(t, err)
	assert.True(t, errcodes.IsMalformedResponse(err))
}

func TestInputValidationSkipsNetwork(t *testing.T) {
	t.Parallel()

	var calls int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusOK, `{}`)
	}))
	ctx := context.Background()

	for _, days := range []int{0, -1, -21} {
		_, err := c.BorrowTitle(ctx, "1", "ebook", "9", days, false)
		require.Error(t, err)
		assert.True(t, errcodes.IsInvalidArgument(err), "days %d", days)
		assert.Equal(t, `"days" must be greater than 0`, err.Error())
	}

	for _, days := range []int{-1, 31, 45, 59, 61, 89, 91, 365} {
		_, err := c.SuspendHoldTitle(ctx, "9", "1", days)
		require.Error(t, err)
		assert.True(t, errcodes.IsInvalidArgument(err), "days %d", days)
	}

	for _, code := range []string{"", "1234567", "123456789", "abcdefgh", "1234 678"} {
		err := c.CloneByCode(ctx, code)
		require.Error(t, err)
		assert.True(t, errcodes.IsInvalidArgument(err), "code %q", code)
	}

	_, err := c.FulfillLoanFile(ctx, "1", "9", formats.EBookOverDrive)
	assert.True(t, errcodes.IsInvalidArgument(err))

	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestBorrowAndRenew(t *testing.T) {
	t.Parallel()

	var bodies []string
	var methods []string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/card/9/loan/123", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		methods = append(methods, r.Method)
		writeJSON(w, http.StatusOK, `{"id":"123","cardId":"9","type":{"id":"ebook"},"title":"The Book"}`)
	}))
	ctx := context.Background()

	loan, err := c.BorrowTitle(ctx, "123", "ebook", "9", 21, false)
	require.NoError(t, err)
	assert.Equal(t, "The Book", loan.Title)

	_, err = c.BorrowTitle(ctx, "123", "ebook", "9", 7, true)
	require.NoError(t, err)

	_, err = c.RenewLoan(ctx, *loan)
	require.NoError(t, err)

	require.Len(t, bodies, 3)
	assert.JSONEq(t, `{"period":21,"units":"days","lucky_day":null,"title_format":"ebook"}`, bodies[0])
	assert.JSONEq(t, `{"period":7,"units":"days","lucky_day":1,"title_format":"ebook"}`, bodies[1])
	assert.JSONEq(t, `{"period":21,"units":"days","lucky_day":null,"title_format":"ebook"}`, bodies[2])
	assert.Equal(t, []string{http.MethodPost, http.MethodPost, http.MethodPut}, methods)
}

func TestBorrowMediaUsesLendingPeriod(t *testing.T) {
	t.Parallel()

	var body string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		writeJSON(w, http.StatusOK, `{"id":"1","cardId":"9"}`)
	}))
	ctx := context.Background()

	state := SyncState{}
	require.NoError(t, c.binder.Decode(ctx, []byte(syncBody), &state))
	card := state.Cards[0]

	_, err := c.BorrowMedia(ctx, "1", formats.MediaEBook, card, false)
	require.NoError(t, err)
	assert.JSONEq(t, `{"period":14,"units":"days","lucky_day":null,"title_format":"ebook"}`, body)

	_, err = c.BorrowMedia(ctx, "1", formats.MediaAudiobook, card, false)
	require.NoError(t, err)
	assert.JSONEq(t, `{"period":28,"units":"days","lucky_day":null,"title_format":"audiobook"}`, body)

	_, err = c.BorrowMedia(ctx, "1", formats.MediaMagazine, card, false)
	require.NoError(t, err)
	assert.JSONEq(t, `{"period":21,"units":"days","lucky_day":null,"title_format":"magazine"}`, body)
}

func TestSyncRejectsLoanLockedToTwoFormats(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"result":"synchronized","loans":[{"id":"1","cardId":"9","formats":[`+
			`{"id":"ebook-epub-adobe","isLockedIn":true},{"id":"ebook-kindle","isLockedIn":true}]}]}`)
	}))

	state := SyncState{}
	err := c.binder.Decode(context.Background(), []byte(`{"loans":[{"id":"1","cardId":"9","formats":[`+
		`{"id":"ebook-epub-adobe","isLockedIn":true},{"id":"ebook-kindle","isLockedIn":true}]}]}`), &state)
	assert.True(t, errcodes.IsMalformedResponse(err))

	_, err = c.Sync(context.Background())
	assert.True(t, errcodes.IsMalformedResponse(err))
}

func TestCardLimitsRejectWithoutRequest(t *testing.T) {
	t.Parallel()

	requests := 0
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		writeJSON(w, http.StatusOK, `{"id":"1","cardId":"9"}`)
	}))
	ctx := context.Background()

	full := Card{CardID: "9", Limits: Counts{Loan: 2, Hold: 5}, Counts: Counts{Loan: 2, Hold: 5}}
	_, err := c.BorrowMedia(ctx, "1", formats.MediaEBook, full, false)
	assert.True(t, errcodes.IsInvalidArgument(err))
	_, err = c.CreateHoldForCard(ctx, "1", full)
	assert.True(t, errcodes.IsInvalidArgument(err))
	assert.Equal(t, 0, requests)

	open := Card{CardID: "9", Limits: Counts{Loan: 2, Hold: 5}, Counts: Counts{Loan: 1, Hold: 4}}
	_, err = c.BorrowMedia(ctx, "1", formats.MediaEBook, open, false)
	require.NoError(t, err)
	_, err = c.CreateHoldForCard(ctx, "1", open)
	require.NoError(t, err)
	assert.Equal(t, 2, requests)
}

func TestLendingPeriodOption(t *testing.T) {
	t.Parallel()

	c, err := New(Options{LendingPeriod: period.MustParse("P2W")})
	require.NoError(t, err)
	assert.Equal(t, 14, c.LendingDays())

	c, err = New(Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultLendingDays, c.LendingDays())
}

func TestHolds(t *testing.T) {
	t.Parallel()

	type call struct {
		method string
		path   string
		body   string
	}
	var calls []call
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		calls = append(calls, call{r.Method, r.URL.Path, string(b)})
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, `{"id":"1","cardId":"9","isAvailable":true,"suspensionFlag":true}`)
	}))
	ctx := context.Background()

	hold, err := c.CreateHold(ctx, "1", "9")
	require.NoError(t, err)
	assert.True(t, hold.IsSuspended())

	_, err = c.SuspendHold(ctx, *hold, 60)
	require.NoError(t, err)
	_, err = c.UnsuspendHold(ctx, *hold)
	require.NoError(t, err)
	require.NoError(t, c.CancelHold(ctx, *hold))

	require.Len(t, calls, 4)
	assert.Equal(t, call{http.MethodPost, "/card/9/hold/1", `{"days_to_suspend":0,"email_address":""}`}, calls[0])
	assert.Equal(t, call{http.MethodPut, "/card/9/hold/1", `{"days_to_suspend":60}`}, calls[1])
	assert.Equal(t, call{http.MethodPut, "/card/9/hold/1", `{"days_to_suspend":0}`}, calls[2])
	assert.Equal(t, call{http.MethodDelete, "/card/9/hold/1", ""}, calls[3])
}

func TestReturnNotFound(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		writeJSON(w, http.StatusBadRequest, `{"result":"not_found"}`)
	}))
	err := c.ReturnTitle(context.Background(), "1", "9")
	require.Error(t, err)
	assert.True(t, errcodes.IsNotFound(err))
}

func TestCards(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/forms/47", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"forms":[{"type":"ils","ilsName":"default","password":true}]}`)
	})
	mux.HandleFunc("/auth/link/47", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"ils":"default","username":"1234"}`, string(b))
		writeJSON(w, http.StatusOK, `{"result":"linked"}`)
	})
	mux.HandleFunc("/card/9", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "Home", r.URL.Query().Get("card_name"))
		writeJSON(w, http.StatusOK, `{"cardId":"9","cardName":"Home"}`)
	})
	c, _ := newTestClient(t, mux)
	ctx := context.Background()

	forms, err := c.AuthForms(ctx, "47")
	require.NoError(t, err)
	require.Len(t, forms.Forms, 1)
	assert.Equal(t, "default", forms.Forms[0].ILSName)

	res, err := c.VerifyCard(ctx, "47", "default", "1234", "")
	require.NoError(t, err)
	assert.Equal(t, "linked", res["result"])

	card, err := c.UpdateCardName(ctx, "9", "Home")
	require.NoError(t, err)
	assert.Equal(t, "Home", card["cardName"])
}
