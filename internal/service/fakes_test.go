package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/levelup-learning/levelup-video/internal/domain"
	"github.com/levelup-learning/levelup-video/internal/repository"
)

type fakeContentStore struct {
	mu          sync.Mutex
	videos      map[string]*domain.VideoAsset
	enrollments map[string]*domain.Enrollment
	videoErr    error
	enrollErr   error
	videoCalls  int
}

func newFakeContentStore() *fakeContentStore {
	return &fakeContentStore{
		videos:      map[string]*domain.VideoAsset{},
		enrollments: map[string]*domain.Enrollment{},
	}
}

func (s *fakeContentStore) addVideo(v *domain.VideoAsset) { s.videos[v.ID] = v }

func (s *fakeContentStore) enroll(userID, courseID string, status domain.PaymentStatus) {
	s.enrollments[userID+"|"+courseID] = &domain.Enrollment{UserID: userID, CourseID: courseID, PaymentStatus: status}
}

func (s *fakeContentStore) FindVideoByID(_ context.Context, id string) (*domain.VideoAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videoCalls++
	if s.videoErr != nil {
		return nil, s.videoErr
	}
	v, ok := s.videos[id]
	if !ok {
		return nil, repository.ErrVideoNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *fakeContentStore) FindEnrollment(_ context.Context, userID, courseID string) (*domain.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enrollErr != nil {
		return nil, s.enrollErr
	}
	e, ok := s.enrollments[userID+"|"+courseID]
	if !ok {
		return nil, repository.ErrEnrollmentNotFound
	}
	cp := *e
	return &cp, nil
}

type inMemoryAccessTokenRepo struct {
	mu        sync.Mutex
	byHash    map[string]*domain.AccessToken
	createErr error
}

func newInMemoryAccessTokenRepo() *inMemoryAccessTokenRepo {
	return &inMemoryAccessTokenRepo{byHash: map[string]*domain.AccessToken{}}
}

func (r *inMemoryAccessTokenRepo) Create(_ context.Context, t *domain.AccessToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if _, exists := r.byHash[t.TokenHash]; exists {
		return errors.New("duplicate token hash")
	}
	cp := *t
	cp.ID = uint(len(r.byHash) + 1)
	r.byHash[t.TokenHash] = &cp
	return nil
}

func (r *inMemoryAccessTokenRepo) FindByHash(_ context.Context, hash string) (*domain.AccessToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byHash[hash]
	if !ok {
		return nil, repository.ErrAccessTokenNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *inMemoryAccessTokenRepo) CountIssuedSince(_ context.Context, userID, videoID string, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, t := range r.byHash {
		if t.UserID == userID && t.VideoID == videoID && !t.IssuedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *inMemoryAccessTokenRepo) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for h, t := range r.byHash {
		if !t.ExpiresAt.After(cutoff) {
			delete(r.byHash, h)
			n++
		}
	}
	return n, nil
}

func (r *inMemoryAccessTokenRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byHash)
}

func strPtr(v string) *string { return &v }
