// Package resolve turns batches of user images into people.
//
// A batch walks Validating, Fetching, Matching, Clustering and Persisting in order and
// ends in Done or Failed. Batches of one user are serialized; different users run in parallel.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/kozaktomas/facegraph/internal/constants"
	"github.com/kozaktomas/facegraph/internal/database"
	"github.com/kozaktomas/facegraph/internal/facematch"
	"github.com/kozaktomas/facegraph/internal/imaging"
	"github.com/kozaktomas/facegraph/internal/logging"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Match strategies.
const (
	StrategyExact = "exact"
	StrategyHNSW  = "hnsw"
)

// Extractor returns the face encodings found in one image.
type Extractor interface {
	ExtractFaceVectors(ctx context.Context, image []byte) ([]facematch.Vector, error)
}

// ImageInput is one submitted image.
type ImageInput struct {
	ID   string
	Data []byte
}

// Options tunes the resolver. Zero values select the defaults from constants.
type Options struct {
	Dim       int
	Threshold float64
	Cutoff    float64
	Linkage   facematch.Linkage
	// Strategy is StrategyExact or StrategyHNSW.
	Strategy       string
	ExtractWorkers int
	ClusterWorkers int
	// IndexMinEncodings is the number of stored encodings from which the HNSW strategy
	// actually builds an index. Smaller graphs are matched exhaustively.
	IndexMinEncodings int
	Logger            *log.Logger
}

func (o Options) withDefaults() Options {
	if o.Dim <= 0 {
		o.Dim = constants.DefaultEncodingDim
	}
	if o.Threshold <= 0 {
		o.Threshold = constants.MatchThreshold
	}
	if o.Cutoff <= 0 {
		o.Cutoff = constants.ClusterCutoff
	}
	if o.Strategy == "" {
		o.Strategy = StrategyExact
	}
	if o.ExtractWorkers <= 0 {
		o.ExtractWorkers = constants.DefaultExtractWorkers
	}
	if o.ClusterWorkers <= 0 {
		o.ClusterWorkers = constants.DefaultClusterWorkers
	}
	if o.IndexMinEncodings <= 0 {
		o.IndexMinEncodings = constants.HNSWMinEncodings
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	return o
}

// Resolver is the resolution orchestrator.
type Resolver struct {
	store      database.IdentityStore
	extractor  Extractor
	opts       Options
	locks      *userLocks
	clusterSem *semaphore.Weighted
	logger     *log.Logger
}

// New creates a resolver over store. extractor may be nil for read-only use
// (listing, renaming, deleting); ProcessBatch then fails.
func New(store database.IdentityStore, extractor Extractor, opts Options) *Resolver {
	opts = opts.withDefaults()
	return &Resolver{
		store:      store,
		extractor:  extractor,
		opts:       opts,
		locks:      newUserLocks(),
		clusterSem: semaphore.NewWeighted(int64(opts.ClusterWorkers)),
		logger:     opts.Logger,
	}
}

// batch carries one ProcessBatch call through the states.
type batch struct {
	userID string
	images []ImageInput
	state  State

	graph    *database.UserGraph
	faces    []facematch.Face
	result   facematch.MatchResult
	newcomer []facematch.NewPerson
}

// ProcessBatch extracts faces from images, attaches them to the user's known people or
// to new people, and returns the number of faces processed.
func (r *Resolver) ProcessBatch(ctx context.Context, userID string, images []ImageInput) (int, error) {
	start := time.Now()
	b := &batch{userID: userID, images: images, state: StateValidating}

	if err := r.validateShape(b); err != nil {
		return 0, r.failed(b, err)
	}

	unlock := r.locks.lock(userID)
	defer unlock()

	steps := []struct {
		state State
		run   func(context.Context, *batch) error
	}{
		{StateValidating, r.validateStored},
		{StateFetching, r.fetch},
		{StateMatching, r.match},
		{StateClustering, r.cluster},
		{StatePersisting, r.persist},
	}
	for _, s := range steps {
		b.state = s.state
		r.logger.Debug("batch state", "user", userID, "state", s.state)
		if err := s.run(ctx, b); err != nil {
			return 0, r.failed(b, err)
		}
	}
	b.state = StateDone

	r.logger.Info("batch processed",
		"user", userID,
		"images", len(images),
		"faces", len(b.faces),
		"matched_people", len(b.result.Matched),
		"new_people", len(b.newcomer),
		"duration", time.Since(start).Round(time.Millisecond))
	return len(b.faces), nil
}

func (r *Resolver) failed(b *batch, err error) error {
	var se *StageError
	if !errors.As(err, &se) {
		se = fail(b.state, "", err)
	}
	r.logger.Error("batch failed", "user", b.userID, "state", se.State, "step", se.Step, "err", se.Err)
	b.state = StateFailed
	return se
}

// validateShape checks everything that does not need the store.
func (r *Resolver) validateShape(b *batch) error {
	if b.userID == "" {
		return fail(StateValidating, "user", fmt.Errorf("%w: empty user id", database.ErrInvalidInput))
	}
	if !validIDLength(b.userID) {
		return fail(StateValidating, "user", fmt.Errorf("%w: user id longer than %d characters",
			database.ErrInvalidInput, constants.MaxIDLength))
	}
	if len(b.images) == 0 {
		return fail(StateValidating, "images", fmt.Errorf("%w: empty batch", database.ErrInvalidInput))
	}
	if len(b.images) > constants.MaxBatchImages {
		return fail(StateValidating, "images", fmt.Errorf("%w: %d images exceeds the limit of %d",
			database.ErrInvalidInput, len(b.images), constants.MaxBatchImages))
	}
	seen := make(map[string]struct{}, len(b.images))
	for _, img := range b.images {
		if img.ID == "" {
			return fail(StateValidating, "images", fmt.Errorf("%w: empty image id", database.ErrInvalidInput))
		}
		if !validIDLength(img.ID) {
			return fail(StateValidating, "images", fmt.Errorf("%w: image id longer than %d characters",
				database.ErrInvalidInput, constants.MaxIDLength))
		}
		if _, ok := seen[img.ID]; ok {
			return fail(StateValidating, "images", fmt.Errorf("%w: %s appears twice in the batch", database.ErrDuplicateImage, img.ID))
		}
		seen[img.ID] = struct{}{}
	}
	if r.extractor == nil {
		return fail(StateValidating, "extractor", errors.New("no face encoder configured"))
	}
	return nil
}

func validIDLength(id string) bool {
	return utf8.RuneCountInString(id) <= constants.MaxIDLength
}

// validateStored rejects images the user already submitted. It runs under the user lock.
func (r *Resolver) validateStored(ctx context.Context, b *batch) error {
	stored, err := r.store.ListUserImageIDs(ctx, b.userID)
	if err != nil {
		return fail(StateValidating, "list images", err)
	}
	known := make(map[string]struct{}, len(stored))
	for _, id := range stored {
		known[id] = struct{}{}
	}
	for _, img := range b.images {
		if _, ok := known[img.ID]; ok {
			return fail(StateValidating, "images", fmt.Errorf("%w: %s already stored", database.ErrDuplicateImage, img.ID))
		}
	}
	return nil
}

func (r *Resolver) fetch(ctx context.Context, b *batch) error {
	graph, err := r.store.GetUserGraph(ctx, b.userID)
	if err != nil {
		return fail(StateFetching, "get user graph", err)
	}
	if graph != nil {
		b.graph = graph
		return nil
	}

	if err := r.store.CreateUser(ctx, b.userID); err != nil {
		if !errors.Is(err, database.ErrAlreadyExists) {
			return fail(StateFetching, "create user", err)
		}
		// Created by another process between the read and the insert.
		graph, err = r.store.GetUserGraph(ctx, b.userID)
		if err != nil {
			return fail(StateFetching, "get user graph", err)
		}
	}
	if graph == nil {
		graph = &database.UserGraph{UserID: b.userID}
	}
	b.graph = graph
	return nil
}

func (r *Resolver) match(ctx context.Context, b *batch) error {
	perImage := make([][]facematch.Vector, len(b.images))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.ExtractWorkers)
	for i, img := range b.images {
		g.Go(func() error {
			vectors, err := r.extractor.ExtractFaceVectors(gctx, img.Data)
			if err != nil {
				if errors.Is(err, imaging.ErrInvalidImage) {
					err = fmt.Errorf("%w: image %s: %w", database.ErrInvalidInput, img.ID, err)
				}
				return fail(StateMatching, "extract "+img.ID, err)
			}
			for _, v := range vectors {
				if err := facematch.ValidateVector(v, r.opts.Dim); err != nil {
					return fail(StateMatching, "extract "+img.ID, fmt.Errorf("%w: image %s: %w", database.ErrInvalidInput, img.ID, err))
				}
			}
			perImage[i] = vectors
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, vectors := range perImage {
		for _, v := range vectors {
			b.faces = append(b.faces, facematch.Face{Vector: v, ImageID: b.images[i].ID})
		}
	}

	people := b.graph.Vectors()
	if r.opts.Strategy == StrategyHNSW && facematch.EncodingCount(people) >= r.opts.IndexMinEncodings {
		b.result = facematch.NewIndex(people).Match(b.faces, r.opts.Threshold)
	} else {
		b.result = facematch.Match(b.faces, people, r.opts.Threshold)
	}
	return nil
}

func (r *Resolver) cluster(ctx context.Context, b *batch) error {
	if len(b.result.Unmatched) == 0 {
		return nil
	}
	if err := r.clusterSem.Acquire(ctx, 1); err != nil {
		return fail(StateClustering, "acquire worker", err)
	}
	defer r.clusterSem.Release(1)

	b.newcomer = facematch.ClusterUnmatched(b.result.Unmatched, len(b.graph.People), r.opts.Cutoff, r.opts.Linkage)
	return nil
}

func (r *Resolver) persist(ctx context.Context, b *batch) error {
	// A disconnecting client must not cut the writes half way.
	ctx = context.WithoutCancel(ctx)

	ids := make([]string, 0, len(b.result.Matched))
	for id := range b.result.Matched {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, personID := range ids {
		faces := b.result.Matched[personID]
		if err := r.store.AppendEncodings(ctx, personID, database.EncodingsFromFaces(faces)); err != nil {
			return fail(StatePersisting, "append encodings "+personID, err)
		}
		for _, imageID := range facematch.ImageIDs(faces) {
			if err := r.store.LinkImageToPeople(ctx, b.userID, imageID, []string{personID}); err != nil {
				return fail(StatePersisting, "link image "+imageID, err)
			}
		}
	}

	for _, np := range b.newcomer {
		personID, err := r.store.CreatePerson(ctx, np.Name)
		if err != nil {
			return fail(StatePersisting, "create person "+np.Name, err)
		}
		if err := r.persistNewcomer(ctx, b.userID, personID, np.Faces); err != nil {
			// Never leave a half-written person in the graph.
			if derr := r.store.DeletePerson(ctx, personID); derr != nil {
				r.logger.Error("discard unfinished person", "user", b.userID, "person", personID, "err", derr)
			}
			return err
		}
		r.logger.Debug("person created", "user", b.userID, "person", personID, "name", np.Name, "faces", len(np.Faces))
	}
	return nil
}

// persistNewcomer fills a freshly created person. Encodings go in before the person becomes
// reachable from the user.
func (r *Resolver) persistNewcomer(ctx context.Context, userID, personID string, faces []facematch.Face) error {
	if err := r.store.AppendEncodings(ctx, personID, database.EncodingsFromFaces(faces)); err != nil {
		return fail(StatePersisting, "append encodings "+personID, err)
	}
	if _, err := r.store.LinkPersonToUser(ctx, userID, personID); err != nil {
		return fail(StatePersisting, "link person "+personID, err)
	}
	for _, imageID := range facematch.ImageIDs(faces) {
		if err := r.store.LinkImageToPeople(ctx, userID, imageID, []string{personID}); err != nil {
			return fail(StatePersisting, "link image "+imageID, err)
		}
	}
	return nil
}

// ListPeople returns the user's people with the images they appear in.
func (r *Resolver) ListPeople(ctx context.Context, userID string) ([]database.PersonSummary, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", database.ErrInvalidInput)
	}
	return r.store.ListPeople(ctx, userID)
}

// RenamePerson sets the display name of one of the user's people.
// It reports whether the stored name changed.
func (r *Resolver) RenamePerson(ctx context.Context, userID, personID, name string) (bool, error) {
	name = facematch.CleanPersonName(name)
	if userID == "" || personID == "" || name == "" {
		return false, fmt.Errorf("%w: user, person and name are required", database.ErrInvalidInput)
	}

	unlock := r.locks.lock(userID)
	defer unlock()

	changed, err := r.store.RenamePerson(ctx, userID, personID, name)
	if err != nil {
		return false, err
	}
	if changed {
		r.logger.Info("person renamed", "user", userID, "person", personID, "name", name)
	}
	return changed, nil
}

// DeleteImage removes an image with every encoding it contributed and returns the people it
// touched. People left without encodings are removed as well.
func (r *Resolver) DeleteImage(ctx context.Context, userID, imageID string) ([]string, error) {
	if userID == "" || imageID == "" {
		return nil, fmt.Errorf("%w: user and image are required", database.ErrInvalidInput)
	}

	unlock := r.locks.lock(userID)
	defer unlock()

	touched, err := r.store.DeleteImage(context.WithoutCancel(ctx), userID, imageID)
	if err != nil {
		return nil, err
	}
	if len(touched) == 0 {
		return nil, fmt.Errorf("%w: image %s of user %s", database.ErrNotFound, imageID, userID)
	}
	r.logger.Info("image deleted", "user", userID, "image", imageID, "people", len(touched))
	return touched, nil
}
