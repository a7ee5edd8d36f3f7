package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"rival-tracker/internal/domain"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeProfiles struct {
	calls   []string
	profile *domain.Profile
	short   *domain.ShortProfile
	err     error
}

func (f *fakeProfiles) GetProfile(_ context.Context, nickname string) (*domain.Profile, error) {
	f.calls = append(f.calls, "get:"+nickname)
	return f.profile, f.err
}

func (f *fakeProfiles) RefreshProfile(_ context.Context, nickname string) (*domain.Profile, error) {
	f.calls = append(f.calls, "refresh:"+nickname)
	return f.profile, f.err
}

func (f *fakeProfiles) GetShortProfile(_ context.Context, userNum int64) (*domain.ShortProfile, error) {
	f.calls = append(f.calls, fmt.Sprintf("short:%d", userNum))
	return f.short, f.err
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func serve(s *ProfileServer, method, path string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	s.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func decodeError(rec *httptest.ResponseRecorder) errorBody {
	var resp errorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return resp.Error
}

func TestProfileRoutes(t *testing.T) {
	Convey("Given a profile server", t, func() {
		profiles := &fakeProfiles{
			profile: &domain.Profile{UserNum: 10, Nickname: "Hero", Killers: []domain.Rival{{UserNum: 2, Count: 3}}, GameCount: 6},
			short:   &domain.ShortProfile{UserNum: 42, Nickname: "Answer", Character: 5},
		}
		srv := NewProfileServer(profiles, fakePinger{}, http.NotFoundHandler(), zerolog.Nop())

		Convey("When requesting a profile", func() {
			rec := serve(srv, http.MethodGet, "/profile/Hero/")

			Convey("Then the cached read is served as JSON", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(rec.Header().Get("Content-Type"), ShouldStartWith, "application/json")
				So(profiles.calls, ShouldResemble, []string{"get:Hero"})

				var body map[string]any
				So(json.Unmarshal(rec.Body.Bytes(), &body), ShouldBeNil)
				So(body["userNum"], ShouldEqual, float64(10))
				So(body["game_count"], ShouldEqual, float64(6))
				So(body["killers"], ShouldHaveLength, 1)
				So(body, ShouldNotContainKey, "does_not_exist")
			})
		})

		Convey("When requesting an update", func() {
			rec := serve(srv, http.MethodGet, "/profile/Hero/update")

			Convey("Then a refresh runs", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(profiles.calls, ShouldResemble, []string{"refresh:Hero"})
			})
		})

		Convey("When a player nicknamed short is requested", func() {
			serve(srv, http.MethodGet, "/profile/short/")
			serve(srv, http.MethodGet, "/profile/short/update")

			Convey("Then it is treated as a nickname", func() {
				So(profiles.calls, ShouldResemble, []string{"get:short", "refresh:short"})
			})
		})

		Convey("When requesting a short profile", func() {
			rec := serve(srv, http.MethodGet, "/profile/short/42")

			Convey("Then the summary is returned", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(profiles.calls, ShouldResemble, []string{"short:42"})
				So(strings.TrimSpace(rec.Body.String()), ShouldEqual, `{"userNum":42,"nickname":"Answer","character":5}`)
			})
		})

		Convey("When the short profile id is not a number", func() {
			rec := serve(srv, http.MethodGet, "/profile/short/abc")

			Convey("Then it is rejected before reaching the service", func() {
				So(rec.Code, ShouldEqual, http.StatusBadRequest)
				So(decodeError(rec).Kind, ShouldEqual, domain.KindInvalidArgument)
				So(profiles.calls, ShouldBeEmpty)
			})
		})

		Convey("When the player does not exist", func() {
			profiles.profile = &domain.Profile{DoesNotExist: true}
			rec := serve(srv, http.MethodGet, "/profile/ghost/")

			Convey("Then only does_not_exist is rendered", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(strings.TrimSpace(rec.Body.String()), ShouldEqual, `{"does_not_exist":true}`)
			})
		})

		Convey("When the service fails", func() {
			cases := []struct {
				err    error
				status int
				kind   domain.ErrorKind
			}{
				{fmt.Errorf("games: %w", domain.ErrUpstreamUnavailable), http.StatusBadGateway, domain.KindUpstreamUnavailable},
				{fmt.Errorf("games: %w", domain.ErrMalformedUpstreamResponse), http.StatusBadGateway, domain.KindMalformedUpstream},
				{fmt.Errorf("upsert: %w", domain.ErrStorageUnavailable), http.StatusServiceUnavailable, domain.KindStorageUnavailable},
				{fmt.Errorf("boom"), http.StatusInternalServerError, domain.KindInternal},
			}

			Convey("Then errors map to coded responses without raw messages", func() {
				for _, c := range cases {
					profiles.err = c.err
					rec := serve(srv, http.MethodGet, "/profile/Hero/update")
					So(rec.Code, ShouldEqual, c.status)
					So(decodeError(rec).Kind, ShouldEqual, c.kind)
					So(rec.Body.String(), ShouldNotContainSubstring, c.err.Error())
				}
			})
		})

		Convey("When the method is not GET", func() {
			rec := serve(srv, http.MethodPost, "/profile/Hero/")

			Convey("Then it is refused", func() {
				So(rec.Code, ShouldEqual, http.StatusMethodNotAllowed)
				So(profiles.calls, ShouldBeEmpty)
			})
		})
	})
}

func TestHealth(t *testing.T) {
	Convey("Given a profile server", t, func() {
		Convey("When the database answers", func() {
			rec := serve(NewProfileServer(&fakeProfiles{}, fakePinger{}, nil, zerolog.Nop()), http.MethodGet, "/healthz")

			Convey("Then it reports ok", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(strings.TrimSpace(rec.Body.String()), ShouldEqual, `{"status":"ok"}`)
			})
		})

		Convey("When the database is down", func() {
			pinger := fakePinger{err: fmt.Errorf("ping: %w", domain.ErrStorageUnavailable)}
			rec := serve(NewProfileServer(&fakeProfiles{}, pinger, nil, zerolog.Nop()), http.MethodGet, "/healthz")

			Convey("Then it reports unavailable", func() {
				So(rec.Code, ShouldEqual, http.StatusServiceUnavailable)
				So(decodeError(rec).Kind, ShouldEqual, domain.KindStorageUnavailable)
			})
		})
	})
}
