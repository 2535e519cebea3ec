package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goodwinteam/avatarcall/internal/core"
	"github.com/goodwinteam/avatarcall/internal/domain"
)

func audioTrack(id string) *fakeTrack {
	return &fakeTrack{id: id, kind: domain.TrackKindAudio}
}

func videoTrack(id string) *fakeTrack {
	return &fakeTrack{id: id, kind: domain.TrackKindVideo}
}

func TestBinderRegistryTracksSubscriptions(t *testing.T) {
	ctx := context.Background()
	factory := newFakeSinkFactory()
	binder := NewSinkBinder(factory, nil)
	avatar := &fakeParticipant{identity: "avatar"}

	tracks := []*fakeTrack{audioTrack("a1"), audioTrack("a2"), audioTrack("a3")}
	for _, tr := range tracks {
		binder.HandleTrackSubscribed(ctx, tr, avatar)
	}
	require.Equal(t, 3, binder.SinkCount())

	binder.HandleTrackUnsubscribed(tracks[1], avatar)
	require.Equal(t, 2, binder.SinkCount())

	gone := factory.audioSink(domain.NewSinkKey("avatar", "a2"))
	require.NotNil(t, gone)
	require.True(t, gone.isClosed())

	kept := factory.audioSink(domain.NewSinkKey("avatar", "a1"))
	require.False(t, kept.isClosed())
}

func TestBinderResubscribeReusesSink(t *testing.T) {
	ctx := context.Background()
	factory := newFakeSinkFactory()
	binder := NewSinkBinder(factory, nil)
	avatar := &fakeParticipant{identity: "avatar"}

	tr := audioTrack("a1")
	binder.HandleTrackSubscribed(ctx, tr, avatar)
	binder.HandleTrackSubscribed(ctx, tr, avatar)

	require.Equal(t, 1, binder.SinkCount())
	sink := factory.audioSink(domain.NewSinkKey("avatar", "a1"))
	require.Equal(t, 2, sink.playCount())
}

func TestBinderSameTrackIDDifferentIdentity(t *testing.T) {
	ctx := context.Background()
	factory := newFakeSinkFactory()
	binder := NewSinkBinder(factory, nil)

	binder.HandleTrackSubscribed(ctx, audioTrack("a1"), &fakeParticipant{identity: "avatar"})
	binder.HandleTrackSubscribed(ctx, audioTrack("a1"), &fakeParticipant{identity: "agent"})

	require.Equal(t, 2, binder.SinkCount())
}

func TestBinderVideoUsesSharedSurface(t *testing.T) {
	ctx := context.Background()
	factory := newFakeSinkFactory()
	binder := NewSinkBinder(factory, nil)
	avatar := &fakeParticipant{identity: "avatar"}

	first := videoTrack("v1")
	second := videoTrack("v2")
	binder.HandleTrackSubscribed(ctx, first, avatar)
	require.Same(t, core.RemoteTrack(first), factory.video.track())

	// a new video track overwrites the surface binding
	binder.HandleTrackSubscribed(ctx, second, avatar)
	require.Same(t, core.RemoteTrack(second), factory.video.track())
	require.Equal(t, 0, binder.SinkCount())

	binder.HandleTrackUnsubscribed(second, avatar)
	require.Nil(t, factory.video.track())
}

func TestBinderCloseAllEmptiesRegistry(t *testing.T) {
	ctx := context.Background()
	factory := newFakeSinkFactory()
	binder := NewSinkBinder(factory, nil)
	avatar := &fakeParticipant{identity: "avatar"}

	binder.HandleTrackSubscribed(ctx, videoTrack("v1"), avatar)
	binder.HandleTrackSubscribed(ctx, audioTrack("a1"), avatar)
	binder.HandleTrackSubscribed(ctx, audioTrack("a2"), avatar)
	require.Equal(t, 2, binder.SinkCount())

	binder.CloseAll()
	require.Equal(t, 0, binder.SinkCount())
	require.Nil(t, factory.video.track())
	for _, id := range []string{"a1", "a2"} {
		require.True(t, factory.audioSink(domain.NewSinkKey("avatar", id)).isClosed())
	}

	// idempotent with nothing registered
	binder.CloseAll()
	require.Equal(t, 0, binder.SinkCount())
}

func TestBinderBlockedPlaybackSetsLocked(t *testing.T) {
	ctx := context.Background()
	factory := newFakeSinkFactory()
	factory.audioPlayErr = domain.ErrPlaybackBlocked
	var gotLocked, gotUnlocked bool
	binder := NewSinkBinder(factory, func(locked, unlocked bool) {
		gotLocked, gotUnlocked = locked, unlocked
	})
	avatar := &fakeParticipant{identity: "avatar"}

	binder.HandleTrackSubscribed(ctx, audioTrack("a1"), avatar)
	require.True(t, binder.AudioLocked())
	require.False(t, binder.AudioUnlocked())
	require.True(t, gotLocked)
	require.False(t, gotUnlocked)
}

func TestBinderUnlockAllClearsLockedOnSuccess(t *testing.T) {
	ctx := context.Background()
	factory := newFakeSinkFactory()
	factory.audioPlayErr = domain.ErrPlaybackBlocked
	binder := NewSinkBinder(factory, nil)
	avatar := &fakeParticipant{identity: "avatar"}

	binder.HandleTrackSubscribed(ctx, audioTrack("a1"), avatar)
	require.True(t, binder.AudioLocked())

	// the user gesture arrives; playback now succeeds
	factory.audioSink(domain.NewSinkKey("avatar", "a1")).playErr = nil
	binder.UnlockAll(ctx)
	require.False(t, binder.AudioLocked())
	require.True(t, binder.AudioUnlocked())
}

func TestBinderUnlockAllKeepsLockedOnFailure(t *testing.T) {
	ctx := context.Background()
	factory := newFakeSinkFactory()
	factory.audioPlayErr = domain.ErrPlaybackBlocked
	binder := NewSinkBinder(factory, nil)
	avatar := &fakeParticipant{identity: "avatar"}

	binder.HandleTrackSubscribed(ctx, audioTrack("a1"), avatar)
	binder.UnlockAll(ctx)
	require.True(t, binder.AudioLocked())
	require.False(t, binder.AudioUnlocked())
}

func TestBinderSinkCreateFailureLeavesRegistryClean(t *testing.T) {
	ctx := context.Background()
	factory := newFakeSinkFactory()
	factory.createErr = context.DeadlineExceeded
	binder := NewSinkBinder(factory, nil)

	binder.HandleTrackSubscribed(ctx, audioTrack("a1"), &fakeParticipant{identity: "avatar"})
	require.Equal(t, 0, binder.SinkCount())
}
